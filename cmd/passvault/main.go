package main

import (
	"github.com/awnumar/memguard"

	"github.com/jmcleod/passvault/cmd/passvault/cmd"
)

func main() {
	// Wipe every enclave and locked buffer on Ctrl-C before exiting.
	memguard.CatchInterrupt()
	defer memguard.Purge()

	cmd.Execute()
}
