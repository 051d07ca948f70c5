package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var imagesProcess bool

var imagesCmd = &cobra.Command{
	Use:   "images <vehicle-id>",
	Short: "List a vehicle's image claims and their validation state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context(), "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		if imagesProcess {
			if env.Images == nil {
				return eris.New("image validation is disabled: set RECON_VISION_KEY")
			}
			n, err := env.Images.ProcessDue(cmd.Context(), 50)
			if err != nil {
				return err
			}
			zap.L().Info("processed due image claims", zap.Int("count", n))
		}

		claims, err := env.Store.ListImageClaims(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(claims)
	},
}

func init() {
	imagesCmd.Flags().BoolVar(&imagesProcess, "process", false, "run one validation sweep before listing")
	rootCmd.AddCommand(imagesCmd)
}
