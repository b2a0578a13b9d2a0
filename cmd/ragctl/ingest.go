package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pdfrag/internal/app"
	"pdfrag/internal/bootstrap"
)

var (
	ingestUser       uint
	ingestNoProgress bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file.pdf]",
	Short: "Store, chunk, embed and index one PDF for a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().UintVarP(&ingestUser, "user", "u", 0, "owner user id")
	ingestCmd.Flags().BoolVar(&ingestNoProgress, "no-progress", false, "disable the progress bar")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if err := requireUser(ingestUser); err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open pdf failed: %w", err)
	}
	defer f.Close()

	a, err := bootstrap.New(cmd.Context(), cfg, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Printf("close resources failed: %v", err)
		}
	}()

	progress := newIngestProgress(!ingestNoProgress && progressEnabled())

	result, err := a.Ingestion.Ingest(cmd.Context(), app.IngestInput{
		UserID:   ingestUser,
		FileName: filepath.Base(args[0]),
		Content:  f,
		Progress: progress.Observe,
	})
	progress.Finish()
	if result != nil {
		cmd.Printf("document %d: %d chunks, %d indexed, %d fallback, %d skipped\n",
			result.Document.ID, result.ChunkCount, result.IndexedCount, result.FallbackCount, result.SkippedCount)
	}
	return err
}
