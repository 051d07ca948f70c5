package main

import (
	"bufio"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sss97133/nuke-recon/internal/model"
)

var importKind string

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Bulk-load vehicles or evidence entries from a JSON lines file",
	Long: `Import reads one JSON object per line and bulk-loads it into the ledger.
Evidence entries are appended as-is (status defaults to pending); vehicles
are upserted on ID. Intended for backfills from prior systems, not for
routine ingestion, which must go through the reconciliation gate.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrapf(err, "open %s", args[0])
		}
		defer f.Close()

		var n int64
		switch importKind {
		case "evidence":
			entries, err := decodeEvidenceLines(f)
			if err != nil {
				return err
			}
			n, err = st.ImportEvidence(ctx, entries)
			if err != nil {
				return err
			}
		case "vehicles":
			vehicles, err := decodeVehicleLines(f)
			if err != nil {
				return err
			}
			n, err = st.ImportVehicles(ctx, vehicles)
			if err != nil {
				return err
			}
		default:
			return eris.Errorf("unknown import kind %q (want evidence or vehicles)", importKind)
		}

		zap.L().Info("import complete",
			zap.String("kind", importKind),
			zap.Int64("rows", n),
		)
		return nil
	},
}

func decodeEvidenceLines(r io.Reader) ([]model.EvidenceEntry, error) {
	var entries []model.EvidenceEntry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e model.EvidenceEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, eris.Wrapf(err, "line %d", line)
		}
		if e.EntityID == "" || e.Field == "" {
			return nil, eris.Errorf("line %d: entity_id and field are required", line)
		}
		switch e.Status {
		case "", model.EvidencePending, model.EvidenceAccepted, model.EvidenceRejected:
		default:
			return nil, eris.Errorf("line %d: unknown evidence status %q", line, e.Status)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "scan input")
	}
	return entries, nil
}

func decodeVehicleLines(r io.Reader) ([]model.Vehicle, error) {
	var vehicles []model.Vehicle
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var v model.Vehicle
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			return nil, eris.Wrapf(err, "line %d", line)
		}
		vehicles = append(vehicles, v)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "scan input")
	}
	return vehicles, nil
}

func init() {
	importCmd.Flags().StringVar(&importKind, "kind", "evidence", "record kind: evidence or vehicles")
	rootCmd.AddCommand(importCmd)
}
