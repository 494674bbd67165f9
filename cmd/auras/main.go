// Command auras runs the Auras API server and a few maintenance commands
// that work directly against the configured store.
//
//	@title			Auras API
//	@version		1.0
//	@description	Dating-prototype backend: browse counterpart profiles, chat with their AI personas, request and answer matches, and run autopilot conversations.
//	@BasePath		/api/v1
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-auras-backend/internal/config"
	"github.com/tbourn/go-auras-backend/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type cliKey struct{}

// cliState is what the root command loads before any subcommand runs.
type cliState struct {
	cfg config.Config
}

func stateFrom(cmd *cobra.Command) *cliState {
	if st, ok := cmd.Context().Value(cliKey{}).(*cliState); ok {
		return st
	}
	return &cliState{}
}

func newRootCmd() *cobra.Command {
	var (
		envFile string
		backend string
	)
	st := &cliState{}

	root := &cobra.Command{
		Use:           "auras",
		Short:         "Auras dating-prototype backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			switch backend {
			case "":
			case config.BackendSQLite, config.BackendRedis, config.BackendMemory:
				cfg.Store.Backend = backend
			default:
				return fmt.Errorf("unknown store %q", backend)
			}
			sysutil.SetupLogger(cmd.ErrOrStderr(), cfg.LogPretty, cfg.LogLevel)
			st.cfg = cfg
			cmd.SetContext(context.WithValue(cmd.Context(), cliKey{}, st))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&backend, "store", "", "override STORE_BACKEND (sqlite|redis|memory)")

	root.AddCommand(
		newServeCmd(),
		newImportCmd(),
		newExportCmd(),
		newResetCmd(),
		newBrowseCmd(),
		newAutopilotCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
