package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/CallumSergeant/alarm/internal/config"
	"github.com/CallumSergeant/alarm/internal/device"
	"github.com/CallumSergeant/alarm/internal/services"
	"github.com/CallumSergeant/alarm/internal/store"
	"github.com/CallumSergeant/alarm/internal/token"
)

func runInstallToken(args []string) {
	fs := flag.NewFlagSet("install-token", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	ttl := fs.Duration("ttl", 0, "token lifetime (default: auth.install_command_ttl)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if err := issueInstallToken(*configPath, *ttl); err != nil {
		fmt.Fprintf(os.Stderr, "install-token failed: %v\n", err)
		os.Exit(1)
	}
}

func issueInstallToken(configPath string, ttl time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = cfg.GetDuration("auth.install_command_ttl")
	}

	ctx := context.Background()
	st, err := store.New(cfg.GetString("database.path"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()
	if err := services.Migrate(ctx, st); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	tokens, err := token.NewService(token.Config{SecretKey: cfg.GetString("auth.secret_key")},
		services.NewSQLiteInstallTokenRepository(st.DB()), nil)
	if err != nil {
		return err
	}
	tok, err := tokens.IssueInstallToken(ctx, ttl)
	if err != nil {
		return err
	}

	fmt.Printf("Token:   %s\nExpires: %s\n\n%s\n",
		tok.Token, tok.ExpiresAt.Format(time.RFC3339),
		device.InstallCommand(cfg.GetString("install.script_url"), tok.Token))
	return nil
}
