package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"pdfrag/internal/bootstrap"
)

var reembedUser uint

var reembedCmd = &cobra.Command{
	Use:   "reembed [document-id]",
	Short: "Retry embedding for chunks stored with the fallback vector",
	Args:  cobra.ExactArgs(1),
	RunE:  runReembed,
}

func init() {
	reembedCmd.Flags().UintVarP(&reembedUser, "user", "u", 0, "owner user id")
	rootCmd.AddCommand(reembedCmd)
}

func runReembed(cmd *cobra.Command, args []string) error {
	if err := requireUser(reembedUser); err != nil {
		return err
	}
	documentID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil || documentID == 0 {
		return fmt.Errorf("invalid document id %q", args[0])
	}

	a, err := bootstrap.New(cmd.Context(), cfg, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.Documents.ReembedFallbacks(cmd.Context(), reembedUser, uint(documentID))
	if err != nil {
		return err
	}
	cmd.Printf("document %d: %d candidates, %d repaired, %d still fallback\n",
		documentID, result.Candidates, result.Repaired, result.StillFallback)
	return nil
}
