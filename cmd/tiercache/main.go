// Command tiercache inspects and operates a tiercache deployment: it
// resolves key templates, reads and evicts distributed entries, and drives
// locks and heartbeat tasks.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
