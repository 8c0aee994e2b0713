package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"example.com/cpd/internal/config"
	"example.com/cpd/internal/logger"
	"example.com/cpd/internal/persistence/postgres"
)

const usage = `usage: migrate <command>

commands:
  up         apply every pending migration
  down       roll back every migration
  steps N    apply N migrations (negative N rolls back)
  version    print the applied schema version
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	migrator, err := postgres.NewMigrator(cfg.PostgresURL)
	if err != nil {
		log.Fatal("failed to open migrator", "error", err)
	}
	defer migrator.Close()

	switch cmd := flag.Arg(0); cmd {
	case "up":
		err = migrator.Up()
	case "down":
		err = migrator.Down()
	case "steps":
		n, convErr := strconv.Atoi(flag.Arg(1))
		if convErr != nil || n == 0 {
			log.Fatal("steps requires a non-zero integer", "arg", flag.Arg(1))
		}
		err = migrator.Steps(n)
	case "version":
		v, dirty, vErr := migrator.Version()
		if vErr != nil {
			log.Fatal("failed to read schema version", "error", vErr)
		}
		fmt.Printf("version=%d dirty=%t\n", v, dirty)
		return
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal("migration failed", "command", flag.Arg(0), "error", err)
	}
	v, dirty, _ := migrator.Version()
	log.Info("migration complete", "command", flag.Arg(0), "version", v, "dirty", dirty)
}
