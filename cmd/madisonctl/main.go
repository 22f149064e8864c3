// Package main provides madisonctl, the operator CLI for the annotation
// service: exports, legacy index rebuilds and schema migrations.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
