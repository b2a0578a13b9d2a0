package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"pdfrag/internal/app"
	"pdfrag/internal/bootstrap"
)

var (
	askUser uint
	askAll  bool
	askTopK int
	askJSON bool
)

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Answer a question from indexed PDFs",
	Long: `Embeds the query, searches Qdrant and asks the configured LLM.
Only the embedding service, Qdrant and the LLM are contacted.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().UintVarP(&askUser, "user", "u", 0, "restrict retrieval to this user's documents")
	askCmd.Flags().BoolVar(&askAll, "all", false, "search every user's documents")
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "number of snippets to retrieve (default from config)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the answer as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	if !askAll {
		if err := requireUser(askUser); err != nil {
			return fmt.Errorf("%w unless --all is set", err)
		}
	}

	embedder := bootstrap.NewEmbeddingClient(cfg, nil, logger)
	retrieval := bootstrap.NewRetrievalService(cfg, embedder, bootstrap.NewVectorStore(cfg, logger), logger)
	chat := bootstrap.NewChatService(cfg, retrieval, nil, nil, logger)

	result, err := chat.Ask(cmd.Context(), app.AskInput{
		UserID:       askUser,
		Query:        args[0],
		AllDocuments: askAll,
		TopK:         askTopK,
	})
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	if askJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal answer: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(result.Answer)
	if len(result.Sources) > 0 {
		cmd.Println()
		cmd.Println("Sources:")
		for i, src := range result.Sources {
			cmd.Printf("  [%d] document %d (score %.3f)\n", i+1, src.DocumentID, src.Score)
		}
	}
	if result.Degraded {
		cmd.Println("(query embedding used the fallback vector)")
	}
	return nil
}
