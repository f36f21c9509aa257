// Command gateway é o proxy de admissão na frente do host de plugins.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
