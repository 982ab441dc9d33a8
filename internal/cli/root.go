// Package cli implements the tickr command-line client.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kuitang/tickr/internal/client"
	"github.com/kuitang/tickr/internal/obs"
)

const defaultServer = "http://localhost:8080"

// App holds the persistent flags shared by every command.
type App struct {
	Server    string
	CachePath string
	JSON      bool
	LogFile   string

	// test hooks
	clientOpts []client.Option
}

// NewRootCmd builds the tickr command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&App{})
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "tickr",
		Short:        "Todo lists that stay in sync across devices",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Show lists and their progress
  tickr lists

  # Add to list 3, then complete item 12
  tickr add 3 buy milk
  tickr done 12

  # Follow changes live and edit interactively
  tickr watch --list 3
`),
	}

	cmd.PersistentFlags().StringVar(&app.Server, "server", envOr("TICKR_SERVER", defaultServer), "Server base URL")
	cmd.PersistentFlags().StringVar(&app.CachePath, "cache", envOr("TICKR_CACHE", defaultCachePath()), "Offline cache file (empty disables persistence)")
	cmd.PersistentFlags().BoolVar(&app.JSON, "json", false, "Print JSON instead of formatted text")
	cmd.PersistentFlags().StringVar(&app.LogFile, "log-file", envOr("TICKR_LOG_FILE", ""), "Append structured logs to this file")

	var logFile *os.File
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if app.LogFile == "" {
			obs.InitWithOutput(io.Discard)
			return nil
		}
		f, err := os.OpenFile(app.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logFile = f
		obs.InitWithOutput(f)
		return nil
	}
	cmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if logFile != nil {
			return logFile.Close()
		}
		return nil
	}

	cmd.AddCommand(newListsCmd(app))
	cmd.AddCommand(newItemsCmd(app))
	cmd.AddCommand(newAddCmd(app))
	cmd.AddCommand(newDoneCmd(app, true))
	cmd.AddCommand(newDoneCmd(app, false))
	cmd.AddCommand(newEditCmd(app))
	cmd.AddCommand(newRmCmd(app))
	cmd.AddCommand(newHistoryCmd(app))
	cmd.AddCommand(newWatchCmd(app))

	return cmd
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "tickr", "cache.json")
}

func (a *App) client() *client.Client {
	return client.New(a.Server, a.clientOpts...)
}

func (a *App) cache() (*client.Cache, error) {
	if a.CachePath == "" {
		return client.NewMemoryCache(), nil
	}
	return client.OpenCache(a.CachePath)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(kind, s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(s), "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", kind, s)
	}
	return id, nil
}
