package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/CallumSergeant/alarm/internal/backup"
	"github.com/CallumSergeant/alarm/internal/config"
)

func runBackup(args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	output := fs.String("output", "", "output file path (default: alarm-backup-{timestamp}.tar.gz)")
	configFile := fs.String("config", "", "path to config file; also included in the backup")
	dbPath := fs.String("db", "", "database path (default: database.path from config)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	if *dbPath == "" {
		*dbPath = cfg.GetString("database.path")
	}
	if *output == "" {
		*output = fmt.Sprintf("alarm-backup-%s.tar.gz", time.Now().Format("20060102-150405"))
	}

	ctx := context.Background()
	m, err := backup.Backup(ctx, *dbPath, cfg.Viper().ConfigFileUsed(), *output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Backup created: %s (database %s", *output, m.Database)
	if m.Config != "" {
		fmt.Printf(", config %s", m.Config)
	}
	fmt.Println(")")
}
