package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	rootpkg "github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/drift"
	"github.com/getpup/pupsourcing-migrator/fleet"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
}

func printReport(w io.Writer, report *rootpkg.FleetRunReport) {
	tw := newTable(w)
	fmt.Fprintln(tw, "NAMESPACE\tOUTCOME\tFROM\tREACHED\tSTEPS\tDETAIL")
	for _, t := range report.Tenants {
		detail := string(t.SkipReason)
		if t.Err != nil {
			detail = t.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			t.Namespace, t.Outcome, t.From, t.Reached, t.StepsApplied, detail)
	}
	_ = tw.Flush()
	fmt.Fprintln(w, fleet.Summary(report))
}

func printRecords(w io.Writer, records []rootpkg.NamespaceRecord) {
	tw := newTable(w)
	fmt.Fprintln(tw, "NAMESPACE\tREVISION")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\n", r.Namespace, r.Revision)
	}
	_ = tw.Flush()
}

// printDrift writes one line per namespace and returns how many drifted.
func printDrift(w io.Writer, reports []drift.Report) int {
	drifted := 0
	for _, r := range reports {
		if r.Drifted() {
			drifted++
		}
		fmt.Fprintln(w, r.String())
	}
	return drifted
}

func printHistory(w io.Writer, reports []*rootpkg.FleetRunReport) {
	tw := newTable(w)
	fmt.Fprintln(tw, "RUN\tCHAIN\tTARGET\tPOLICY\tSTARTED\tSUCCEEDED\tFAILED\tSKIPPED")
	for _, r := range reports {
		succeeded, failed, skipped := r.Counts()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			r.ID, r.Chain, r.Target, r.Policy, r.StartedAt.Format("2006-01-02 15:04:05"), succeeded, failed, skipped)
	}
	_ = tw.Flush()
}
