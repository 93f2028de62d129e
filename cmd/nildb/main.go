// Command nildb runs a single node of the document store: a capability-
// token-authorized HTTP API over a set of builder-owned collections.
package main

import (
	"fmt"
	"os"

	"github.com/nilbase/nildb/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
