package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pdfrag/internal/bootstrap"
)

var collectionCmd = &cobra.Command{
	Use:   "collection",
	Short: "Manage the Qdrant collection",
}

var collectionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the configured collection if it does not exist",
	Args:  cobra.NoArgs,
	RunE:  runCollectionCreate,
}

func init() {
	collectionCmd.AddCommand(collectionCreateCmd)
	rootCmd.AddCommand(collectionCmd)
}

func runCollectionCreate(cmd *cobra.Command, _ []string) error {
	store := bootstrap.NewVectorStore(cfg, logger)
	if err := store.EnsureCollection(cmd.Context(), cfg.Qdrant.Collection, cfg.Embedding.Dimension); err != nil {
		return err
	}
	cmd.Printf("collection %s ready (dimension %d)\n", cfg.Qdrant.Collection, cfg.Embedding.Dimension)
	return nil
}

func requireUser(userID uint) error {
	if userID == 0 {
		return fmt.Errorf("--user is required")
	}
	return nil
}
