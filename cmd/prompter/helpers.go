package main

import (
	"context"
	"fmt"
	"os"
)

// fatalError prints an error to stderr and exits.
func fatalError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// requireIndex initializes the metadata index, exiting on failure.
// Every read command goes through here so a missing or corrupt index
// is rebuilt transparently.
func requireIndex(ctx context.Context) {
	if err := manager.Initialize(ctx); err != nil {
		fatalError(err)
	}
}
