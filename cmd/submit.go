package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	submitSubmitter string
	submitOrigin    string
	submitFile      string
)

var submitCmd = &cobra.Command{
	Use:   "submit <vehicle-id> [text]",
	Short: "Submit free text about a vehicle for reconciliation",
	Long:  "Extracts listing URLs and identifier tokens from the text, fetches and gates them, and writes admitted evidence to the ledger.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args[1:], " ")
		if submitFile != "" {
			data, err := os.ReadFile(submitFile)
			if err != nil {
				return eris.Wrapf(err, "read %s", submitFile)
			}
			text = string(data)
		}
		if text == "" {
			return eris.New("no text given: pass it as arguments or via --file")
		}

		env, err := initEngine(cmd.Context(), "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Engine.SubmitText(cmd.Context(), args[0], submitSubmitter, text, submitOrigin)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitSubmitter, "submitter", "cli", "submitter id recorded on evidence")
	submitCmd.Flags().StringVar(&submitOrigin, "origin", "cli", "surface the text came from")
	submitCmd.Flags().StringVar(&submitFile, "file", "", "read the text from a file instead of arguments")
	rootCmd.AddCommand(submitCmd)
}
