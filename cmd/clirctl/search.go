package main

import (
	"fmt"
	"io"

	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/client"
	"github.com/spf13/cobra"
)

func NewSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the corpus",
		Long:  `Retrieve documents by vector similarity, optionally reranked by the relevance model.`,
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch,
	}

	cmd.Flags().BoolP("rerank", "r", false, "Rerank candidates with the relevance model")
	cmd.Flags().IntP("top-k", "k", 0, "Number of candidates (server default when 0)")
	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	useRerank, _ := cmd.Flags().GetBool("rerank")
	topK, _ := cmd.Flags().GetInt("top-k")
	asJSON, _ := cmd.Flags().GetBool("json")
	if topK < 0 {
		return fmt.Errorf("--top-k must not be negative")
	}

	resp, err := clientFor(cmd).Search(cmd.Context(), args[0], client.SearchOptions{UseRerank: useRerank, TopK: topK})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if asJSON {
		return writeJSON(cmd, resp)
	}
	printSearch(cmd.OutOrStdout(), resp)
	return nil
}

func printSearch(w io.Writer, resp *handler.SearchResponse) {
	mode := "vector"
	if resp.Reranked {
		mode = "reranked"
	}
	if resp.Fallback != "" {
		mode += " (fallback: " + resp.Fallback + ")"
	}
	fmt.Fprintf(w, "%d results, %s, %.1fms", resp.Total, mode, resp.Timing.TotalMs)
	if resp.Cached {
		fmt.Fprint(w, ", cached")
	}
	fmt.Fprintln(w)

	for _, r := range resp.Results {
		rank := r.VectorRank
		score := r.VectorScore
		if r.CrossEncoderScore != nil {
			rank = r.FinalRank
			score = *r.CrossEncoderScore
		}
		fmt.Fprintf(w, "%3d  %.4f  %s  %s\n", rank, score, r.DocID, r.Title)
		if r.TextPreview != "" {
			fmt.Fprintf(w, "     %s\n", r.TextPreview)
		}
	}

	if c := resp.RankingComparison; c != nil {
		fmt.Fprintf(w, "improved %d, declined %d, unchanged %d, avg change %.2f\n",
			c.DocsImproved, c.DocsDeclined, c.DocsUnchanged, c.AvgRankChange)
	}
}
