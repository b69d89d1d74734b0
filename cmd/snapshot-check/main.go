// Command snapshot-check restores a stored transaction snapshot against a
// YAML mapping and reports relation end-points that are out of sync.
//
// The snapshot backend is chosen through the RELCORE_* environment (see
// internal/config). The exit code is 0 for a consistent snapshot, 1 for
// violations or failures and 2 for usage errors.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"relcore/internal/config"
	"relcore/internal/core"
	platformotel "relcore/internal/platform/otel"
	"relcore/pkg/domain"
)

const serviceName = "snapshot-check"

var exitFunc = os.Exit

// errViolations marks a snapshot that restored but is inconsistent.
var errViolations = errors.New("consistency violations found")

func main() {
	code := cli(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var mappingPath, name string
	var list bool
	fs.StringVar(&mappingPath, "mapping", "mapping.yaml", "path to the relation mapping yaml")
	fs.StringVar(&name, "name", "", "name of the snapshot to check")
	fs.BoolVar(&list, "list", false, "list stored snapshots and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !list && strings.TrimSpace(name) == "" {
		_, _ = fmt.Fprintln(stderr, "snapshot-check: -name is required")
		fs.Usage()
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "snapshot-check: %v\n", err)
		return 1
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	shutdown, err := platformotel.Setup(ctx, cfg, serviceName)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}()

	if list {
		err = runList(ctx, cfg, stdout)
	} else {
		err = run(ctx, cfg, logger, mappingPath, name, stdout)
	}
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errViolations):
		return 1
	default:
		logger.Error("snapshot check failed", "error", err)
		return 1
	}
}

func runList(ctx context.Context, cfg config.Config, stdout io.Writer) (err error) {
	storage, err := core.OpenStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if cerr := storage.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close storage: %w", cerr)
		}
	}()
	names, err := storage.Snapshots.ListSnapshots(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		if _, err := fmt.Fprintln(stdout, n); err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, mappingPath, name string, stdout io.Writer) (err error) {
	mapping, err := loadMapping(mappingPath)
	if err != nil {
		return err
	}
	storage, err := core.OpenStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if cerr := storage.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close storage: %w", cerr)
		}
	}()

	arena, err := storage.Snapshots.LoadSnapshot(ctx, name)
	if err != nil {
		return err
	}
	tx, err := core.RestoreTransaction(arena, mapping, storage.Source, core.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("restore %s: %w", name, err)
	}
	logger.Debug("snapshot restored", "snapshot", name, "transaction", tx.ID(), "records", arena.Len())

	report := tx.CheckConsistency()
	if err := writeReport(stdout, name, report); err != nil {
		return err
	}
	if !report.OK() {
		return errViolations
	}
	return nil
}

func loadMapping(path string) (mapping *domain.MappingConfiguration, err error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("empty mapping path")
	}
	file, err := os.Open(filepath.Clean(path)) // #nosec G304: operator-supplied mapping file
	if err != nil {
		return nil, fmt.Errorf("read mapping: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close mapping: %w", cerr)
		}
	}()
	return domain.LoadMappingYAML(file)
}

func writeReport(w io.Writer, name string, report core.ConsistencyReport) error {
	status := "consistent"
	if !report.OK() {
		status = fmt.Sprintf("%d violation(s)", len(report.Violations))
	}
	if _, err := fmt.Fprintf(w, "snapshot %s: transaction %s, %d end-points, %s\n", name, report.TransactionID, report.EndPoints, status); err != nil {
		return err
	}
	for _, v := range report.Violations {
		if _, err := fmt.Fprintf(w, "  - %s\n", v); err != nil {
			return err
		}
	}
	return nil
}
