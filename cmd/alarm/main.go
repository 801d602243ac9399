// Command alarm runs the auth-log ingestion and blocklist server and its
// maintenance subcommands.
package main

import (
	"fmt"
	"os"
)

const usage = `usage: alarm <command> [flags]

commands:
  serve           run the HTTP server (default)
  backup          archive the database and config
  restore         restore a backup archive
  install-token   issue an install token and print the install command
  version         print version information
`

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		runServe(args)
	case "backup":
		runBackup(args)
	case "restore":
		runRestore(args)
	case "install-token":
		runInstallToken(args)
	case "version":
		runVersion(args)
	case "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
}
