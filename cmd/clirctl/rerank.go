package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewRerankCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rerank",
		Short: "Inspect or release the relevance model",
	}
	cmd.AddCommand(newRerankStatusCmd(), newRerankUnloadCmd())
	return cmd
}

func newRerankStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show relevance model status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			status, err := clientFor(cmd).RerankStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("rerank status: %w", err)
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "model:   %s\n", status.Model)
			fmt.Fprintf(out, "state:   %s\n", status.State)
			fmt.Fprintf(out, "loaded:  %t\n", status.Loaded)
			fmt.Fprintf(out, "loads:   %d\n", status.Loads)
			fmt.Fprintf(out, "circuit: %s\n", status.Circuit)
			return nil
		},
	}
}

func newRerankUnloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unload",
		Short: "Release the relevance model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			wasLoaded, err := clientFor(cmd).RerankUnload(cmd.Context())
			if err != nil {
				return fmt.Errorf("rerank unload: %w", err)
			}
			if asJSON {
				return writeJSON(cmd, map[string]bool{"was_loaded": wasLoaded})
			}
			if wasLoaded {
				fmt.Fprintln(cmd.OutOrStdout(), "relevance model unloaded")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "relevance model was not loaded")
			}
			return nil
		},
	}
}
