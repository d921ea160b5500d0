// Command sessrec records browser sessions and serves them to people and
// agents.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
