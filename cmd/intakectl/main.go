package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/wolfman30/movement-intake/cmd/mainconfig"
	"github.com/wolfman30/movement-intake/internal/cli"
	appconfig "github.com/wolfman30/movement-intake/internal/config"
	"github.com/wolfman30/movement-intake/internal/llm"
	"github.com/wolfman30/movement-intake/internal/persona"
	"github.com/wolfman30/movement-intake/internal/storage"
	"github.com/wolfman30/movement-intake/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	if err := cfg.Intake.Validate(); err != nil {
		return err
	}

	// Determine DB path: env var or default ~/.intake/state.db
	dbPath := os.Getenv("INTAKE_DB")
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("finding home directory: %w", err)
		}
		dbPath = filepath.Join(home, ".intake", "state.db")
	}

	profile, err := persona.LoadBuiltin(cfg.PersonaProfile)
	if err != nil {
		return err
	}

	// The REPL shares the terminal, so only warnings and errors are logged.
	logger := logging.NewText(os.Stderr, "warn")

	app := &cli.App{
		Profile:   profile,
		Settings:  cfg.Intake,
		Logger:    logger,
		DefaultDB: dbPath,
		OpenStore: openSQLiteStore,
		NewModel: func(ctx context.Context) (llm.Client, error) {
			return mainconfig.NewModel(ctx, cfg, nil, logger)
		},
	}
	defer func() { _ = app.Close() }()

	return cli.NewRootCmd(app).ExecuteContext(context.Background())
}

func openSQLiteStore(ctx context.Context, path string) (storage.Store, func() error, error) {
	db, err := storage.OpenSQLite(path)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.NewSQLStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db.Close, nil
}
