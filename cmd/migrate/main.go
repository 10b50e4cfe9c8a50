package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/vendorhub-backend/pkg/config"
	"github.com/angelmondragon/vendorhub-backend/pkg/db"
	"github.com/angelmondragon/vendorhub-backend/pkg/logger"
	"github.com/angelmondragon/vendorhub-backend/pkg/migrate"
)

const usage = `usage: migrate -cmd <up|down|status|to|create|validate> [-version N] [-name NAME]`

func main() {
	cmd := flag.String("cmd", "up", "up|down|status|to|create|validate")
	name := flag.String("name", "", "migration name for -cmd=create")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=to")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	// Offline commands work on the source tree or the embedded files only.
	switch *cmd {
	case "create":
		path, err := migrate.Scaffold(migrate.SourceDir, *name, time.Now())
		exitOn(err, "create migration")
		fmt.Println("created migration:", path)
		return
	case "validate":
		exitOn(migrate.Validate(migrate.Migrations()), "validate migrations")
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
	})

	if cfg.DB.IsSQLite() {
		fmt.Fprintln(os.Stderr, "goose migrations target postgres; sqlite uses VENDORHUB_AUTO_MIGRATE")
		os.Exit(1)
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	runner, err := migrate.NewRunner(sqlDB)
	requireResource(ctx, logg, "goose provider", err)

	logg.Info(ctx, "migrate ready")

	var applied []migrate.Applied
	switch *cmd {
	case "up":
		applied, err = runner.Up(ctx)
	case "down":
		applied, err = runner.Down(ctx)
	case "to":
		target, parseErr := strconv.ParseInt(*version, 10, 64)
		if parseErr != nil {
			fmt.Fprintf(os.Stderr, "invalid -version %q (expected YYYYMMDDHHMMSS)\n", *version)
			os.Exit(1)
		}
		applied, err = runner.To(ctx, target)
	case "status":
		statuses, statusErr := runner.Status(ctx)
		exitOn(statusErr, "status")
		for _, st := range statuses {
			state := "pending"
			if st.Applied {
				state = "applied " + st.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Printf("%d\t%-48s\t%s\n", st.Version, st.Path, state)
		}
		return
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
	exitOn(err, *cmd)

	for _, a := range applied {
		fmt.Printf("%s\t%d\t%s\t%s\n", a.Direction, a.Version, a.Path, a.Duration)
	}
	if len(applied) == 0 {
		fmt.Println("no migrations to apply")
	}
}

func exitOn(err error, what string) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s failed: %v\n", what, err)
	os.Exit(1)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
