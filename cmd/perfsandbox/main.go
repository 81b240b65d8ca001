// Command perfsandbox serves the audit API or drives a run against one.
//
//	perfsandbox serve
//	perfsandbox run --url https://example.com --tools LH,PSI
//	perfsandbox tools
package main

import (
	"os"

	"github.com/raysh454/perfsandbox/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
