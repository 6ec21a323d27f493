package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "face-matcher",
	Short: "A face embedding catalog and similarity matcher",
	Long: `Face Matcher stores one face embedding per person and matches query
embeddings against the catalog using cosine similarity.

Embeddings live in PostgreSQL (pgvector), optionally fronted by an in-memory
HNSW index. While the database is unreachable the server keeps answering
from an in-process fallback catalog and marks results as provisional.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
