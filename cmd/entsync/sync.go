package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hyperengineering/entsync/internal/execctx"
	"github.com/hyperengineering/entsync/internal/plugin"
	"github.com/hyperengineering/entsync/internal/service"
	entsync "github.com/hyperengineering/entsync/internal/sync"
	"github.com/hyperengineering/entsync/internal/validation"
)

var (
	syncFile             string
	syncIndexingBehavior string
	syncSkipIndexers     []string
	syncSourceID         string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Apply a batch of sync operations directly to the database",
	Long: `Apply a batch of sync operations from a JSON or YAML file in one
transaction and print the result. The server does not need to be running.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVarP(&syncFile, "file", "f", "", "Operations file (.json, .yaml or .yml)")
	syncCmd.Flags().StringVar(&syncIndexingBehavior, "indexing-behavior", "",
		"Indexing behavior: disable-indexing or use-queue-indexing")
	syncCmd.Flags().StringSliceVar(&syncSkipIndexers, "skip", nil, "Indexers to skip for this call")
	syncCmd.Flags().StringVar(&syncSourceID, "source", "",
		"Actor id recorded in the change log (defaults to the run's request id)")
	syncCmd.Flags().StringVar(&dbPathOverride, "db", "", "Database path (overrides config and ENTSYNC_DB_PATH)")
	syncCmd.MarkFlagRequired("file")
}

func runSync(cmd *cobra.Command, args []string) error {
	ops, err := readOperations(syncFile)
	if err != nil {
		return err
	}

	indexing, err := entsync.ParseIndexingBehavior(syncIndexingBehavior)
	if err != nil {
		return err
	}

	cfg, err := loadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if errs := validation.ValidateSyncRequest(ops, validation.Limits{
		MaxOperations: cfg.Sync.MaxOperations,
		MaxPayloads:   cfg.Sync.MaxPayloads,
	}); len(errs) > 0 {
		return reportValidationErrors(cmd, errs)
	}

	plugin.Reset()
	initPlugins()

	db, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	dispatcher, _ := newDispatcher(db, cfg.Webhooks)
	svc := service.NewSyncService(db, db, dispatcher)

	requestID := uuid.NewString()
	ec := execctx.New(execctx.Source{Type: execctx.SourceCLI, ActorID: cliActorID(syncSourceID, requestID)})
	slog.Debug("sync command",
		"component", "cli",
		"action", "sync",
		"request_id", requestID,
		"source", ec.Source.String(),
		"operations", len(ops),
	)
	result, err := svc.Sync(cmd.Context(), ops, ec, entsync.Behavior{
		Indexing:     indexing,
		SkipIndexers: syncSkipIndexers,
	})
	if err != nil {
		var opErrs entsync.OperationErrors
		if errors.As(err, &opErrs) {
			return reportValidationErrors(cmd, validation.FromOperationErrors(opErrs))
		}
		return err
	}

	return printJSON(cmd.OutOrStdout(), result)
}

// cliActorID returns the --source value, or the run's request id when none
// was given, so every CLI run is traceable in the change log.
func cliActorID(source, requestID string) string {
	if source = strings.TrimSpace(source); source != "" {
		return source
	}
	return requestID
}

// readOperations decodes an operations file. YAML is converted through
// JSON so payload values have the same types as API requests.
func readOperations(path string) ([]entsync.Operation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read operations: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
	default:
		return nil, fmt.Errorf("unsupported operations file %q: want .json, .yaml or .yml", path)
	}

	var ops []entsync.Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return ops, nil
}

func reportValidationErrors(cmd *cobra.Command, errs []validation.ValidationError) error {
	for _, e := range errs {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", e.Field, e.Message)
	}
	return fmt.Errorf("%w: %d validation errors", entsync.ErrInvalidOperation, len(errs))
}
