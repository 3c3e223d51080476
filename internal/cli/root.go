// Package cli implements the deckd command line interface.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deckforge/deckd/internal/daemon"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "deckd",
	Short: "Slide deck generation daemon",
	Long: `deckd turns source content into slide decks through a staged
generation pipeline, charging accounts from a credit ledger. Credits are
held when a job starts and only settle when the deck completes.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.toml (default ~/.deckd/config.toml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ─── Daemon API client helpers ──────────────────────────────────────────────
// The management commands talk to a running daemon over its HTTP API.

func apiBase() (string, error) {
	cfg, err := daemon.Load(configPath)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://%s:%d", cfg.API.Host, cfg.API.Port), nil
}

func apiCall(method, path, body string) (map[string]interface{}, error) {
	base, err := apiBase()
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("unexpected response: %s", string(raw))
		}
	}
	if resp.StatusCode >= 400 {
		if errObj, ok := out["error"].(map[string]interface{}); ok {
			return nil, fmt.Errorf("%v", errObj["message"])
		}
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return out, nil
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
