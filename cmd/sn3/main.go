// Package main is the entry point for the sn3 CLI.
package main

import "github.com/cesaregarza/splatnet3-auth/internal/cli"

func main() {
	cli.Execute()
}
