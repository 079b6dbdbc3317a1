// Command gympassd serves the gym membership API: billing webhooks,
// checkout, pass issuance and pass expiry.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gympassd:", err)
		os.Exit(1)
	}
}
