package main

import (
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"
)

// version is set at build time via -ldflags; left as a constant default
// so `go run`/`go build` without linker flags still produces sane
// output instead of an empty string.
var version = "dev"

func main() {
	var cmd PodscalerCommand

	cmd.Version = func() {
		fmt.Printf("podscaler %s\n", version)
		os.Exit(0)
	}

	parser := flags.NewParser(&cmd, flags.HelpFlag|flags.PassDoubleDash)
	parser.NamespaceDelimiter = "-"

	_, err := parser.Parse()
	handleError(err)
}
