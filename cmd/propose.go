package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sss97133/nuke-recon/internal/model"
)

var (
	proposeSubmitter  string
	proposeSourceKind string
)

var proposeCmd = &cobra.Command{
	Use:   "propose <vehicle-id> <field> <value>",
	Short: "Manually propose a field value",
	Long:  "The manual-entry path. Identifier proposals still run the full gate decision table, in lenient chassis-code mode.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context(), "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		entry, err := env.Engine.ProposeValue(cmd.Context(),
			args[0], args[1], args[2], proposeSubmitter, model.SourceKind(proposeSourceKind))
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entry)
	},
}

func init() {
	proposeCmd.Flags().StringVar(&proposeSubmitter, "submitter", "cli", "submitter id recorded on evidence")
	proposeCmd.Flags().StringVar(&proposeSourceKind, "source-kind", "manual", "source kind: manual or verified-document")
	rootCmd.AddCommand(proposeCmd)
}
