// cmd/pgheapedit/main.go
//
// pgheapedit - list, read, and edit tuples inside a raw PostgreSQL
// heap relation segment.
//
// Usage:
//
//	pgheapedit --filenode-path PATH --mode {list,read,update,raw_update} [flags]
package main

import (
	"log"
	"os"

	"pgheapedit/internal/cli"
)

func main() {
	cfg, err := cli.ParseArgs(os.Args[1:])
	if err != nil {
		log.New(os.Stderr, "", 0).Printf("ERROR: %v", err)
		os.Exit(1)
	}

	errLog := log.New(os.Stderr, "", 0)
	os.Exit(cli.Run(cfg, os.Stdout, errLog))
}
