package main

import (
	"encoding/json"
	"time"

	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/client"
	"github.com/spf13/cobra"
)

func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "clirctl",
		Short:         "Query the cross-lingual search service",
		Long:          `Run searches against a running search service and manage its relevance model.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	addPersistentFlags(rootCmd)
	rootCmd.AddCommand(
		NewSearchCmd(),
		NewRerankCmd(),
	)
	return rootCmd
}

func addPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("addr", "http://localhost:8080", "Search service base URL")
	cmd.PersistentFlags().Duration("timeout", 60*time.Second, "Per-request timeout")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
}

func clientFor(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("addr")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return client.New(addr, timeout)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
