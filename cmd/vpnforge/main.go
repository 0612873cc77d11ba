// Command vpnforge runs the VPNForge control plane and its maintenance
// subcommands.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/Strob0t/VPNForge/internal/config"
	"github.com/Strob0t/VPNForge/internal/logger"
)

func main() {
	if err := dispatch(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func dispatch(args []string) error {
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return withConfig(runServe)
	case "refresh":
		return withConfig(runRefresh)
	case "migrate":
		return withConfig(func(cfg *config.Config) error { return runMigrate(cfg, args) })
	case "admin":
		return runAdmin(args)
	case "help", "-h", "--help":
		printHelp()
		return nil
	default:
		printHelp()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// withConfig loads configuration, installs the configured logger as the
// slog default and runs fn.
func withConfig(fn func(cfg *config.Config) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closer := logger.New(cfg.Logging)
	defer closer.Close()
	slog.SetDefault(log)

	return fn(cfg)
}

func printHelp() {
	fmt.Fprint(os.Stderr, `Usage: vpnforge [command]

Commands:
  serve                  Run the control plane (default)
  refresh                Reconcile sessions of every tenant once and exit
  migrate up             Apply pending database migrations
  migrate down [N]       Roll back the last N migrations (default 1)
  migrate version        Print the current migration version
  admin hash-key         Print the bcrypt hash of an API key for auth.api_key_hash
`)
}
