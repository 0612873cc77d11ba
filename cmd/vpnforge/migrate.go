package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Strob0t/VPNForge/internal/adapter/postgres"
	"github.com/Strob0t/VPNForge/internal/config"
)

func runMigrate(cfg *config.Config, args []string) error {
	ctx := context.Background()
	sub := "up"
	if len(args) > 0 {
		sub = args[0]
	}

	switch sub {
	case "up":
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return err
		}
		fmt.Println("migrations applied")
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid step count %q", args[1])
			}
			steps = n
		}
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, steps); err != nil {
			return err
		}
		fmt.Printf("rolled back %d migration(s)\n", steps)
	case "version":
		v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		fmt.Println(v)
	default:
		printHelp()
		return fmt.Errorf("unknown migrate command: %s", sub)
	}
	return nil
}
