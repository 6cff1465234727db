package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrelay/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// migrateCommand 执行一个迁移子命令
type migrateCommand func(ctx context.Context, cli *migration.CLI, args []string) error

var migrateCommands = map[string]migrateCommand{
	"up": func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunUp(ctx)
	},
	"down": func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunDown(ctx)
	},
	"reset": func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunReset(ctx)
	},
	"status": func(_ context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunStatus()
	},
	"version": func(_ context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunVersion()
	},
	"goto": func(ctx context.Context, cli *migration.CLI, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("goto requires exactly one version argument")
		}
		v, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		return cli.RunGoto(ctx, uint(v))
	},
	"force": func(_ context.Context, cli *migration.CLI, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("force requires exactly one version argument")
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		return cli.RunForce(v)
	},
}

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	sub := args[0]
	if sub == "help" || sub == "-h" || sub == "--help" {
		printMigrateUsage()
		return
	}
	cmd, ok := migrateCommands[sub]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", sub)
		printMigrateUsage()
		os.Exit(1)
	}

	fs := flag.NewFlagSet("migrate "+sub, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite); overrides config")
	_ = fs.Parse(args[1:])

	_, cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}

	logger, _ := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	migrator, err := migration.NewMigratorFromConfig(cfg.Database, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := cmd(context.Background(), migration.NewCLI(migrator), fs.Args()); err != nil {
		logger.Error("migration failed", zap.String("subcommand", sub), zap.Error(err))
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", sub, err)
		os.Exit(1)
	}
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  agentrelay migrate <subcommand> [options] [args]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  reset       Rollback all migrations
  status      Show migration status
  version     Show current migration version
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  help        Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)

Examples:
  agentrelay migrate up --config /etc/agentrelay/config.yaml
  agentrelay migrate status
  agentrelay migrate goto 1
  agentrelay migrate force 1`)
}
