package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/CallumSergeant/alarm/internal/version"
)

func runVersion(args []string) {
	fs := flag.NewFlagSet("version", flag.ExitOnError)
	short := fs.Bool("short", false, "print only the version number")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *short {
		fmt.Println(version.Short())
		return
	}
	fmt.Println(version.Info())
}
