package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFilter(t *testing.T, cfg FilterConfig) *URLFilter {
	t.Helper()
	if cfg.SeedURL == "" {
		cfg.SeedURL = "https://example.com/"
	}
	f, err := NewURLFilter(cfg)
	require.NoError(t, err)
	return f
}

func TestNormalizeCanonicalForms(t *testing.T) {
	t.Parallel()
	f := newTestFilter(t, FilterConfig{NormalizeQuery: true})

	cases := []struct {
		name string
		in   string
		base string
		want string
	}{
		{"lowercases host", "https://Example.COM/About", "", "https://example.com/About"},
		{"strips default https port", "https://example.com:443/a", "", "https://example.com/a"},
		{"strips default http port", "http://example.com:80/a", "", "http://example.com/a"},
		{"strips fragment", "https://example.com/a#section", "", "https://example.com/a"},
		{"strips trailing slash", "https://example.com/a/b/", "", "https://example.com/a/b"},
		{"keeps root slash", "https://example.com/", "", "https://example.com/"},
		{"bare host gets root path", "https://example.com", "", "https://example.com/"},
		{"resolves relative", "../docs", "https://example.com/a/b", "https://example.com/docs"},
		{"sorts query", "https://example.com/a?z=1&a=2", "", "https://example.com/a?a=2&z=1"},
		{"drops utm params", "https://example.com/a?utm_source=x&q=1", "", "https://example.com/a?q=1"},
		{"drops fbclid", "https://example.com/a?fbclid=abc", "", "https://example.com/a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := f.Normalize(tc.in, tc.base)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeQueryDisabled(t *testing.T) {
	t.Parallel()
	f := newTestFilter(t, FilterConfig{NormalizeQuery: false})

	got, err := f.Normalize("https://example.com/a?utm_source=x&q=1", "")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/a?q=1&utm_source=x", got)
}

func TestCheckRejections(t *testing.T) {
	t.Parallel()
	f := newTestFilter(t, FilterConfig{MaxDepth: 3, NormalizeQuery: true})

	cases := []struct {
		name   string
		in     string
		depth  int
		reason string
	}{
		{"off domain", "https://other.com/page", 1, ReasonOffDomain},
		{"subdomain is off domain", "https://www.example.com/page", 1, ReasonOffDomain},
		{"mailto", "mailto:hi@example.com", 1, ReasonBadScheme},
		{"javascript", "javascript:void(0)", 1, ReasonBadScheme},
		{"tel", "tel:+15551234", 1, ReasonBadScheme},
		{"static image", "https://example.com/logo.png", 1, ReasonStaticAsset},
		{"static archive", "https://example.com/dist.tar", 1, ReasonStaticAsset},
		{"login page", "https://example.com/login", 1, ReasonExcluded},
		{"wp admin", "https://example.com/wp-admin/options.php", 1, ReasonExcluded},
		{"feed", "https://example.com/blog/feed/", 1, ReasonExcluded},
		{"cart", "https://example.com/cart", 1, ReasonExcluded},
		{"too deep", "https://example.com/deep", 4, ReasonDepth},
		{"empty", "", 1, ReasonInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, reason := f.Check(tc.in, "", tc.depth)
			require.Equal(t, tc.reason, reason)
			require.Empty(t, key)
		})
	}
}

func TestCheckAcceptsInDomainPages(t *testing.T) {
	t.Parallel()
	f := newTestFilter(t, FilterConfig{MaxDepth: 3, NormalizeQuery: true})

	key, reason := f.Check("/about/", "https://example.com/", 1)
	require.Empty(t, reason)
	require.Equal(t, "https://example.com/about", key)

	// loginfo is not the login page
	key, reason = f.Check("https://example.com/loginfo", "", 1)
	require.Empty(t, reason)
	require.Equal(t, "https://example.com/loginfo", key)
}

func TestCheckSameKeyForEquivalentURLs(t *testing.T) {
	t.Parallel()
	f := newTestFilter(t, FilterConfig{NormalizeQuery: true})

	k1, reason := f.Check("https://example.com/a/?utm_campaign=x", "", 0)
	require.Empty(t, reason)
	k2, reason := f.Check("https://EXAMPLE.com:443/a#top", "", 0)
	require.Empty(t, reason)
	require.Equal(t, k1, k2)
}

func TestCheckBareHostAndRootShareOneKey(t *testing.T) {
	t.Parallel()
	f := newTestFilter(t, FilterConfig{NormalizeQuery: true})

	root, reason := f.Check("https://example.com/", "", 0)
	require.Empty(t, reason)
	bare, reason := f.Check("https://example.com", "", 0)
	require.Empty(t, reason)
	require.Equal(t, root, bare)
}

func TestNewURLFilterRejectsBadSeed(t *testing.T) {
	t.Parallel()
	_, err := NewURLFilter(FilterConfig{SeedURL: "not a url"})
	require.Error(t, err)
}
