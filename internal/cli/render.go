package cli

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/roach88/gamecat/internal/game"
)

// listResult is the JSON payload of list and watch.
type listResult struct {
	Collection string        `json:"collection"`
	Count      int           `json:"count"`
	Games      []game.Record `json:"games"`
}

// statusChange is the JSON payload of mark and toggle.
type statusChange struct {
	ID     string `json:"id"`
	Read   bool   `json:"read"`
	Status string `json:"status"`
}

// seedResult is the JSON payload of seed.
type seedResult struct {
	Collection string   `json:"collection"`
	IDs        []string `json:"ids"`
}

// renderTable lays records out in aligned columns, one per line.
func renderTable(collection string, records []game.Record) string {
	if len(records) == 0 {
		return fmt.Sprintf("No games in collection %s.", collection)
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tTITLE\tDEVELOPER\tEDITOR")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Status(), dash(r.Title), dash(r.Developer), dash(r.Editor))
	}
	_ = w.Flush()
	return strings.TrimRight(buf.String(), "\n")
}

// renderRecord prints every field of one record.
func renderRecord(r game.Record) string {
	rows := []struct{ label, value string }{
		{"ID:", r.ID},
		{"Title:", r.Title},
		{"Status:", r.Status()},
		{"Developer:", r.Developer},
		{"Editor:", r.Editor},
		{"Image:", r.ImageURL},
		{"Description:", r.Description},
	}
	lines := make([]string, len(rows))
	for i, row := range rows {
		lines[i] = fmt.Sprintf("%-12s %s", row.label, dash(row.value))
	}
	return strings.Join(lines, "\n")
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
