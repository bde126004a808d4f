package main

import (
	"context"
	"os"

	"github.com/marcelocantos/pipesh/internal/cli"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	return cli.Execute(context.Background(), version, os.Args[1:])
}
