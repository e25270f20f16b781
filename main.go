// The main package for the sitewatch executable.
package main

import (
	"github.com/mkwatanabe/sitewatch/cmd"
)

func main() {
	cmd.Execute()
}
