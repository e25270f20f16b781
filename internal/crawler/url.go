package crawler

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Reject reasons reported by the URL filter. Filter rejections are
// recorded as skipped, never as errors.
const (
	ReasonOffDomain   = "off_domain"
	ReasonExcluded    = "excluded_pattern"
	ReasonStaticAsset = "static_asset"
	ReasonBadScheme   = "unsupported_scheme"
	ReasonDepth       = "max_depth_exceeded"
	ReasonInvalid     = "invalid_url"
)

// Paths that are never worth mirroring: auth flows, feeds, carts, and
// WordPress internals. Overridable via configuration.
var defaultExcludePatterns = []string{
	`/(?:calendar|login|logout|signup|register|password-reset)(?:/|$)`,
	`/feed(?:/|$)`,
	`/wp-admin(?:/|$)`,
	`/wp-content/(?:cache|uploads)(?:/|$)`,
	`/cart(?:/|$)`,
	`/checkout(?:/|$)`,
	`/my-account(?:/|$)`,
}

var defaultStaticExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".svg", ".css",
	".js", ".pdf", ".zip", ".tar", ".gz", ".mp3",
	".mp4", ".avi", ".mov", ".webm", ".webp", ".ico",
}

// Query parameters stripped during normalization so that tracking links
// collapse onto the same key.
var trackingParams = map[string]struct{}{
	"fbclid": {},
	"gclid":  {},
	"ref":    {},
}

// URLFilter canonicalizes URLs and decides crawl eligibility against the
// seed domain. Two URLs with the same normalized key are identical for
// frontier purposes; this is the invariant that bounds crawl size.
type URLFilter struct {
	seedHost     string
	maxDepth     int
	normalizeQry bool
	excludeRegex *regexp.Regexp
	staticExts   map[string]struct{}
}

// FilterConfig controls URLFilter behavior. Zero-value slices fall back
// to the built-in defaults.
type FilterConfig struct {
	SeedURL          string
	MaxDepth         int
	NormalizeQuery   bool
	ExcludePatterns  []string
	StaticExtensions []string
}

// NewURLFilter builds a filter scoped to the seed URL's domain.
func NewURLFilter(cfg FilterConfig) (*URLFilter, error) {
	seed, err := url.Parse(cfg.SeedURL)
	if err != nil {
		return nil, fmt.Errorf("parse seed url: %w", err)
	}
	if seed.Host == "" {
		return nil, fmt.Errorf("seed url %q has no host", cfg.SeedURL)
	}

	patterns := cfg.ExcludePatterns
	if len(patterns) == 0 {
		patterns = defaultExcludePatterns
	}
	re, err := regexp.Compile(strings.Join(patterns, "|"))
	if err != nil {
		return nil, fmt.Errorf("compile exclude patterns: %w", err)
	}

	exts := cfg.StaticExtensions
	if len(exts) == 0 {
		exts = defaultStaticExtensions
	}
	extSet := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		extSet[strings.ToLower(ext)] = struct{}{}
	}

	return &URLFilter{
		seedHost:     strings.ToLower(seed.Host),
		maxDepth:     cfg.MaxDepth,
		normalizeQry: cfg.NormalizeQuery,
		excludeRegex: re,
		staticExts:   extSet,
	}, nil
}

// Normalize canonicalizes rawURL, resolving it against base when it is
// relative. Rules, in order: resolve, lowercase scheme+host, strip
// default port, strip fragment, sort query (dropping tracking params
// when enabled), canonicalize an empty path to the root path, strip
// trailing slash except for the root path.
func (f *URLFilter) Normalize(rawURL, base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if base != "" {
		baseURL, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("parse base url: %w", err)
		}
		u = baseURL.ResolveReference(u)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		if f.normalizeQry {
			for param := range q {
				if _, tracking := trackingParams[param]; tracking || strings.HasPrefix(param, "utm_") {
					q.Del(param)
				}
			}
		}
		u.RawQuery = q.Encode() // Encode sorts keys
	}

	// A bare host and the root path are the same page; collapse them
	// onto one key so the homepage never crawls twice.
	if u.Path == "" {
		u.Path = "/"
	}
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

// Check normalizes rawURL and decides whether it is eligible for the
// frontier at the given depth. The returned reason is empty when the URL
// is accepted.
func (f *URLFilter) Check(rawURL, base string, depth int) (key string, reason string) {
	if rawURL == "" {
		return "", ReasonInvalid
	}

	lower := strings.ToLower(rawURL)
	for _, scheme := range []string{"mailto:", "tel:", "javascript:", "data:"} {
		if strings.HasPrefix(lower, scheme) {
			return "", ReasonBadScheme
		}
	}

	key, err := f.Normalize(rawURL, base)
	if err != nil {
		return "", ReasonInvalid
	}

	u, err := url.Parse(key)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", ReasonBadScheme
	}

	if u.Host != f.seedHost {
		return "", ReasonOffDomain
	}

	if f.maxDepth > 0 && depth > f.maxDepth {
		return "", ReasonDepth
	}

	if ext := strings.ToLower(path.Ext(u.Path)); ext != "" {
		if _, static := f.staticExts[ext]; static {
			return "", ReasonStaticAsset
		}
	}

	if f.excludeRegex.MatchString(u.Path) {
		return "", ReasonExcluded
	}

	return key, ""
}
