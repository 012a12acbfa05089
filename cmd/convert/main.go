// Package main is the convert command line client: it uploads a file to the
// conversion service and follows the job until it finishes.
package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
