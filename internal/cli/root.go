// Package cli is the terminal front end for the intake assistant. It drives
// the same session and orchestrator as the widget service, with a local
// sqlite file standing in for browser storage.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wolfman30/movement-intake/internal/clock"
	"github.com/wolfman30/movement-intake/internal/config"
	"github.com/wolfman30/movement-intake/internal/llm"
	"github.com/wolfman30/movement-intake/internal/persona"
	"github.com/wolfman30/movement-intake/internal/session"
	"github.com/wolfman30/movement-intake/internal/storage"
	"github.com/wolfman30/movement-intake/pkg/logging"
)

// DefaultVisitorID identifies the single local visitor.
const DefaultVisitorID = "terminal"

// App holds what the commands share. OpenStore and NewModel are called
// lazily so that commands which need neither never touch disk or keys.
type App struct {
	Profile   *persona.Profile
	Settings  config.Intake
	Logger    *logging.Logger
	Clock     clock.Clock
	VisitorID string
	DefaultDB string

	OpenStore func(ctx context.Context, path string) (storage.Store, func() error, error)
	NewModel  func(ctx context.Context) (llm.Client, error)

	store   storage.Store
	closeFn func() error
}

// NewRootCmd creates the top-level "intakectl" command and registers all
// subcommands against the provided App.
func NewRootCmd(app *App) *cobra.Command {
	var dbPath string

	root := &cobra.Command{
		Use:           "intakectl",
		Short:         "Talk to the studio intake assistant from a terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}
	root.PersistentFlags().StringVar(&dbPath, "db", app.DefaultDB, "path to the local state database")

	open := func(cmd *cobra.Command) error {
		return app.open(cmd.Context(), dbPath)
	}

	root.AddCommand(
		newChatCmd(app, open),
		newResetCmd(app, open),
		newExportCmd(app, open),
		newScoreCmd(app),
	)

	return root
}

func (a *App) open(ctx context.Context, path string) error {
	if a.store != nil {
		return nil
	}
	if a.OpenStore == nil {
		a.store = storage.NewMemoryStore()
		return nil
	}
	store, closeFn, err := a.OpenStore(ctx, path)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	a.store, a.closeFn = store, closeFn
	return nil
}

// Close releases the state store, if one was opened.
func (a *App) Close() error {
	if a.closeFn == nil {
		return nil
	}
	err := a.closeFn()
	a.closeFn, a.store = nil, nil
	return err
}

func (a *App) deps() session.Deps {
	return session.Deps{
		Store:    a.store,
		Clock:    a.Clock,
		Settings: a.Settings,
		Logger:   a.Logger,
	}
}

func (a *App) visitor() string {
	if a.VisitorID == "" {
		return DefaultVisitorID
	}
	return a.VisitorID
}

var errNoConversation = errors.New("no active conversation")
