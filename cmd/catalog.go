package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-matcher/internal/constants"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect and maintain the face catalog",
}

var catalogStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog statistics",
	RunE:  runCatalogStats,
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled people, oldest enrollment first",
	RunE:  runCatalogList,
}

var catalogRemoveCmd = &cobra.Command{
	Use:   "remove <person-id>...",
	Short: "Remove the enrolled face of one or more people",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCatalogRemove,
}

var catalogMatchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match one face vector against the catalog",
	Long: `Match a face vector given as a JSON array of numbers, read from a file
or from stdin.`,
	Example: `  face-matcher catalog match --vector face.json
  echo '[0.12, -0.03, ...]' | face-matcher catalog match --json`,
	RunE: runCatalogMatch,
}

var catalogIndexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the HNSW index and save it to disk",
	Long: `Build the in-memory HNSW index from all usable catalog rows and persist
it to HNSW_INDEX_PATH, so the server can load it instead of rebuilding.`,
	RunE: runCatalogIndex,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogStatsCmd)
	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogRemoveCmd)
	catalogCmd.AddCommand(catalogMatchCmd)
	catalogCmd.AddCommand(catalogIndexCmd)

	catalogStatsCmd.Flags().Bool("json", false, "Output as JSON")
	catalogListCmd.Flags().Int("offset", 0, "Number of people to skip")
	catalogListCmd.Flags().Int("limit", constants.DefaultPeopleListLimit, "Maximum number of people to list")
	catalogListCmd.Flags().Bool("json", false, "Output as JSON")
	catalogMatchCmd.Flags().String("vector", "-", "File with the query vector as a JSON array (- for stdin)")
	catalogMatchCmd.Flags().Bool("json", false, "Output as JSON")
	catalogIndexCmd.Flags().String("path", "", "Index file path (defaults to HNSW_INDEX_PATH)")
}

func runCatalogStats(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	b, err := openBackend(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer b.Close()

	svc, err := b.newService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	st, err := svc.Stats(ctx)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return writeJSON(os.Stdout, st)
	}
	fmt.Printf("Backend:   %s\n", st.Backend)
	fmt.Printf("Dimension: %d\n", cfg.Catalog.Dimension)
	fmt.Printf("Records:   %d\n", st.Records)
	fmt.Printf("Corrupt:   %d\n", st.Corrupt)
	return nil
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	b, err := openBackend(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer b.Close()

	svc, err := b.newService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	page, err := svc.ListPeople(ctx, mustGetInt(cmd, "offset"), mustGetInt(cmd, "limit"))
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return writeJSON(os.Stdout, page)
	}
	for _, p := range page.People {
		fmt.Printf("%-36s  %-24s  %s\n", p.RecordID, p.PersonID, p.Name)
	}
	fmt.Printf("Showing %d of %d people\n", len(page.People), page.Total)
	return nil
}

func runCatalogRemove(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := requirePostgres(cfg); err != nil {
		return err
	}
	ctx := context.Background()
	b, err := openBackend(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer b.Close()

	svc, err := b.newService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	for _, personID := range args {
		if err := svc.Remove(ctx, personID); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", personID)
	}
	return nil
}

func runCatalogMatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	vector, err := readVector(mustGetString(cmd, "vector"))
	if err != nil {
		return err
	}

	ctx := context.Background()
	b, err := openBackend(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer b.Close()

	svc, err := b.newService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	res, err := svc.RecognizeOne(ctx, vector)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return writeJSON(os.Stdout, res)
	}
	if !res.Recognized {
		fmt.Println("No matching face found")
	}
	for i, m := range res.Candidates {
		marker := " "
		if m.Accepted {
			marker = "*"
		}
		fmt.Printf("%s %d. %-24s %-30s %5.1f%%  (distance %.4f)\n",
			marker, i+1, m.PersonID, m.Name, m.Percent, m.Distance)
	}
	return nil
}

func runCatalogIndex(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := requirePostgres(cfg); err != nil {
		return err
	}
	path := mustGetString(cmd, "path")
	if path == "" {
		path = cfg.Catalog.HNSWIndexPath
	}
	if path == "" {
		return errors.New("no index path: set --path or HNSW_INDEX_PATH")
	}

	// The saved index must be built from the table, not loaded from a stale file.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove old index: %w", err)
	}
	cfg.Catalog.HNSW = false

	ctx := context.Background()
	b, err := openBackend(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.pg.EnableHNSW(ctx, path); err != nil {
		return err
	}
	if err := b.pg.SaveHNSWIndex(ctx); err != nil {
		return err
	}
	fmt.Printf("HNSW index saved to %s\n", path)
	return nil
}

// readVector reads a JSON array of numbers from path, or stdin for "-".
func readVector(path string) ([]float32, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open vector file: %w", err)
		}
		defer f.Close()
		r = f
	}
	var vector []float32
	if err := json.NewDecoder(r).Decode(&vector); err != nil {
		return nil, fmt.Errorf("decode vector: %w", err)
	}
	return vector, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
