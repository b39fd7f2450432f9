// Package main is the single-binary entrypoint for mtran, an offline
// neural translation server.
package main

import "github.com/tutu-network/mtran/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
