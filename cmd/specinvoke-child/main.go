// Package main is the standalone child trampoline for specinvoke.
//
// specinvoke starts it for every copy when it is installed next to the
// specinvoke binary. It links only the launcher core, so the time between a
// copy's start stamp and its shell exec excludes the driver's package init.
//
//	go build -o bin/ ./cmd/specinvoke ./cmd/specinvoke-child
package main

import (
	"fmt"
	"os"

	"github.com/randomizedcoder/go-specinvoke/internal/invoke"
)

func main() {
	invoke.MaybeRunChild()

	fmt.Fprintf(os.Stderr, "%s: started without a child plan; it is run by specinvoke\n", invoke.HelperName)
	os.Exit(invoke.ExitChildFatal)
}
