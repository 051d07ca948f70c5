package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var provenanceViewer string

var provenanceCmd = &cobra.Command{
	Use:   "provenance <vehicle-id> <field>",
	Short: "Show the current value, source, and edit permission for a field",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context(), "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		view, err := env.Resolver.Resolve(cmd.Context(), args[0], args[1], provenanceViewer)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	},
}

func init() {
	provenanceCmd.Flags().StringVar(&provenanceViewer, "viewer", "", "viewer id for the edit-permission check")
	rootCmd.AddCommand(provenanceCmd)
}
