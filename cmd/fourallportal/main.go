// Command fourallportal synchronizes 4AllPortal PIM events into a local
// queue and applies them.
package main

import (
	"os"

	"github.com/crossmedia/fourallportal/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
