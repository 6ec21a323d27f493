package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-matcher/internal/catalog"
	"github.com/kozaktomas/face-matcher/internal/constants"
	"github.com/kozaktomas/face-matcher/internal/logging"
)

// maxReportedFailures limits how many rejected lines are printed.
const maxReportedFailures = 10

var catalogImportCmd = &cobra.Command{
	Use:   "import <file.jsonl>",
	Short: "Enroll faces from a JSON Lines file",
	Long: `Enroll faces from a JSON Lines file, one face per line:

  {"person_id": "u123", "vector": [0.12, -0.03, ...], "metadata": {"name": "Jane Doe"}}

Enrolling a person again replaces the stored face, so an import can be re-run.
Invalid lines are skipped and reported; the import stops if the database
becomes unreachable.`,
	Args: cobra.ExactArgs(1),
	RunE: runCatalogImport,
}

func init() {
	catalogCmd.AddCommand(catalogImportCmd)

	catalogImportCmd.Flags().Bool("dry-run", false, "Validate the file without writing to the catalog")
}

// importEntry is one line of an import file.
type importEntry struct {
	PersonID string         `json:"person_id"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata"`
}

// importFailure is a rejected import line.
type importFailure struct {
	Line int
	Err  error
}

// parseImportLine decodes and validates one import line for a catalog of
// dimension dim.
func parseImportLine(line []byte, dim int) (importEntry, error) {
	var e importEntry
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&e); err != nil {
		return e, fmt.Errorf("%w: %v", catalog.ErrInvalidInput, err)
	}
	if e.PersonID == "" {
		return e, fmt.Errorf("%w: person_id is required", catalog.ErrInvalidInput)
	}
	if err := catalog.ValidateVector(e.Vector, dim); err != nil {
		return e, err
	}
	if _, err := catalog.NormalizeMetadata(e.Metadata); err != nil {
		return e, err
	}
	return e, nil
}

func runCatalogImport(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	dryRun := mustGetBool(cmd, "dry-run")
	if !dryRun {
		if err := requirePostgres(cfg); err != nil {
			return err
		}
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat import file: %w", err)
	}

	ctx := context.Background()
	var enroll func(importEntry) error
	if dryRun {
		enroll = func(importEntry) error { return nil }
	} else {
		b, err := openBackend(ctx, cfg, logger, false)
		if err != nil {
			return err
		}
		defer b.Close()

		// Per-face enroll logs would tear the progress bar.
		quiet, err := logging.New(os.Stderr, "warn", cfg.Log.Format)
		if err != nil {
			return err
		}
		svc, err := b.newService(ctx, cfg, quiet)
		if err != nil {
			return err
		}
		enroll = func(e importEntry) error {
			_, err := svc.Enroll(ctx, e.PersonID, e.Vector, e.Metadata)
			return err
		}
	}

	bar := progressbar.NewOptions64(info.Size(),
		progressbar.OptionSetDescription("Importing faces"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	imported, failures, err := importLines(f, cfg.Catalog.Dimension, enroll, func(n int) { _ = bar.Add(n) })
	_ = bar.Finish()
	fmt.Println()

	for i, fail := range failures {
		if i == maxReportedFailures {
			fmt.Printf("... and %d more rejected lines\n", len(failures)-maxReportedFailures)
			break
		}
		fmt.Printf("line %d: %v\n", fail.Line, fail.Err)
	}
	verb := "Imported"
	if dryRun {
		verb = "Validated"
	}
	fmt.Printf("%s %d faces, rejected %d lines\n", verb, imported, len(failures))
	return err
}

// importLines enrolls every valid line of r. Invalid lines are collected as
// failures; an unavailable catalog aborts the import.
func importLines(
	r io.Reader, dim int, enroll func(importEntry) error, progress func(int),
) (int, []importFailure, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), constants.ImportMaxLineBytes)

	var (
		imported int
		failures []importFailure
		lineNo   int
	)
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		progress(len(line) + 1)
		if len(line) == 0 {
			continue
		}

		e, err := parseImportLine(line, dim)
		if err == nil {
			err = enroll(e)
		}
		switch {
		case err == nil:
			imported++
		case errors.Is(err, catalog.ErrUnavailable):
			return imported, failures, fmt.Errorf("line %d: %w", lineNo, err)
		default:
			failures = append(failures, importFailure{Line: lineNo, Err: err})
		}
	}
	if err := scanner.Err(); err != nil {
		return imported, failures, fmt.Errorf("read import file after line %d: %w", lineNo, err)
	}
	return imported, failures, nil
}
