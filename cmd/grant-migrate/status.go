package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/example/grant-migrate/internal/migration"
)

type statusRow struct {
	filename  string
	state     string
	appliedAt time.Time
}

// writeStatus renders one row per migration, ordered by filename, followed by
// a summary line.
func writeStatus(w io.Writer, status migration.Status) error {
	rows := make([]statusRow, 0, len(status.Applied)+len(status.Pending)+len(status.Orphaned))
	for _, a := range status.Applied {
		rows = append(rows, statusRow{filename: a.Filename, state: "applied", appliedAt: a.AppliedAt})
	}
	for _, p := range status.Pending {
		rows = append(rows, statusRow{filename: p.Name, state: "pending"})
	}
	for _, o := range status.Orphaned {
		// Recorded but no longer on disk.
		rows = append(rows, statusRow{filename: o.Filename, state: "orphaned", appliedAt: o.AppliedAt})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].filename < rows[j].filename })

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MIGRATION\tSTATE\tAPPLIED AT")
	for _, row := range rows {
		appliedAt := "-"
		if !row.appliedAt.IsZero() {
			appliedAt = row.appliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", row.filename, row.state, appliedAt)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	switch n := len(status.Pending); {
	case n == 0:
		_, err := fmt.Fprintln(w, "up to date")
		return err
	case n == 1:
		_, err := fmt.Fprintln(w, "1 migration pending")
		return err
	default:
		_, err := fmt.Fprintf(w, "%d migrations pending\n", n)
		return err
	}
}
