// Command rpcctl calls remote methods, logs in and sends batches from the
// shell, and can run the reference server for local testing.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rpcctl:", err)
		os.Exit(1)
	}
}
