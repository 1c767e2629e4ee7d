// Command companion keeps a desktop companion connected to a gateway and
// serves its status locally.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
