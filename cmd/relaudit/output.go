package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/emergent-company/tether/domain/consistency"
)

func writeReport(w io.Writer, format string, rep *consistency.Report) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return err
		}
		return enc.Close()
	default:
		return writeReportText(w, rep)
	}
}

func writeReportText(w io.Writer, rep *consistency.Report) error {
	mode := "live"
	if rep.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(w, "Audit (%s) %s, took %s\n", mode,
		rep.StartedAt.Format("2006-01-02 15:04:05Z07:00"),
		rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "Scanned %d edges, repairs claimed %d (completed %d, failed %d)\n",
		rep.Scanned, rep.Repairs.Claimed, rep.Repairs.Completed, rep.Repairs.Failed)
	fmt.Fprintf(w, "Findings %d, applied %d, skipped %d\n",
		len(rep.Findings), rep.Applied(), rep.Skipped())

	if len(rep.Findings) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	table := tablewriter.NewWriter(w)
	table.Header("Kind", "Owner", "Target", "Action", "Result")
	for _, f := range rep.Findings {
		if err := table.Append(string(f.Kind), f.OwnerID, f.TargetID, string(f.Action), findingResult(f, rep.DryRun)); err != nil {
			return err
		}
	}
	return table.Render()
}

func findingResult(f consistency.Finding, dryRun bool) string {
	switch {
	case f.Applied:
		return "applied"
	case f.Skipped != "":
		return "skipped: " + f.Skipped
	case dryRun:
		return "would apply"
	default:
		return "not applied"
	}
}
