package main

import (
	"encoding/json"
	"io"
	"text/tabwriter"

	"github.com/hyperengineering/entsync/internal/config"
)

var dbPathOverride string

// loadLocalConfig loads config without the API key requirement and applies
// the --db override.
func loadLocalConfig() (*config.Config, error) {
	cfg, err := config.LoadLocal()
	if err != nil {
		return nil, err
	}
	if dbPathOverride != "" {
		cfg.Database.Path = dbPathOverride
		cfg.Database.ReplicaPath = ""
	}
	return cfg, nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
