package cli

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arkilian/strata/internal/datafile"
	"github.com/arkilian/strata/internal/metadata"
	"github.com/arkilian/strata/internal/planner"
	"github.com/arkilian/strata/internal/snapshot"
)

// parseTimestamp accepts milliseconds since the epoch or RFC 3339.
func parseTimestamp(s string) (int64, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: expected epoch milliseconds or RFC 3339", s)
	}
	return t.UnixMilli(), nil
}

type scanFlags struct {
	filter        string
	columns       []string
	snapshotID    int64
	ref           string
	asOf          string
	caseSensitive bool
	limit         int
	format        string
	stats         bool
}

func (f *scanFlags) options(cmd *cobra.Command) (planner.Options, error) {
	var opts planner.Options
	if f.filter != "" {
		e, err := parseFilter(f.filter)
		if err != nil {
			return opts, err
		}
		opts.Filter = e
	}
	opts.Columns = f.columns
	opts.Ref = f.ref
	opts.CaseSensitive = f.caseSensitive
	if cmd.Flags().Changed("snapshot") {
		id := f.snapshotID
		opts.SnapshotID = &id
	}
	if f.asOf != "" {
		ts, err := parseTimestamp(f.asOf)
		if err != nil {
			return opts, err
		}
		opts.AsOfTimestampMs = &ts
	}
	return opts, nil
}

func newScanCommand(g *globals) *cobra.Command {
	var f scanFlags
	cmd := &cobra.Command{
		Use:   "scan <namespace.table>",
		Short: "Read rows of a table",
		Long: `Read the rows of a table version that match a filter.

Filters use SQL-like syntax: comparisons, [NOT] IN, [NOT] BETWEEN,
IS [NOT] NULL, IS [NOT] NAN, LIKE 'prefix%', AND, OR, NOT and parentheses.

Examples:
  strata scan db.events --filter "level = 'error' AND id > 100" --columns id,level
  strata scan db.events --ref audit --format table
  strata scan db.events --as-of 2024-01-01T00:00:00Z --stats`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.format != "json" && f.format != "table" {
				return fmt.Errorf("unsupported format %q: use json or table", f.format)
			}
			opts, err := f.options(cmd)
			if err != nil {
				return err
			}
			tbl, err := g.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			scan, err := tbl.NewScan(opts)
			if err != nil {
				return err
			}

			var columns []string
			for _, field := range scan.Projection().Fields {
				columns = append(columns, field.Name)
			}
			w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
			enc := json.NewEncoder(out(cmd))
			if f.format == "table" {
				fmt.Fprintln(w, strings.ToUpper(strings.Join(columns, "\t")))
			}

			var (
				stats  planner.PlanStats
				n      int
				ctx    = cmd.Context()
				reader = datafile.NewReader(g.tables().Store())
			)
		tasks:
			for task, err := range scan.PlanFiles(ctx, &stats) {
				if err != nil {
					return err
				}
				for row, err := range reader.Read(ctx, task, scan.Schema(), scan.Projection()) {
					if err != nil {
						return err
					}
					if f.limit > 0 && n == f.limit {
						break tasks
					}
					n++
					if f.format == "json" {
						if err := enc.Encode(row); err != nil {
							return err
						}
						continue
					}
					values := make([]string, len(columns))
					for i, c := range columns {
						values[i] = formatValue(row[c])
					}
					fmt.Fprintln(w, strings.Join(values, "\t"))
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if f.stats {
				fmt.Fprintf(cmd.ErrOrStderr(),
					"rows=%d manifests=%d/%d files=%d/%d delete_files=%d\n",
					n, stats.ManifestsScanned, stats.ManifestsTotal,
					stats.FilesPlanned, stats.FilesConsidered, stats.DeleteFilesAttached)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.filter, "filter", "", "row filter")
	cmd.Flags().StringSliceVar(&f.columns, "columns", nil, "columns to project (comma separated)")
	cmd.Flags().Int64Var(&f.snapshotID, "snapshot", 0, "read this snapshot ID")
	cmd.Flags().StringVar(&f.ref, "ref", "", "read the head of this branch or tag")
	cmd.Flags().StringVar(&f.asOf, "as-of", "", "read the table as of a time (epoch ms or RFC 3339)")
	cmd.Flags().BoolVar(&f.caseSensitive, "case-sensitive", false, "match column names case sensitively")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum rows to print (0 for all)")
	cmd.Flags().StringVarP(&f.format, "format", "o", "json", "output format: json, table")
	cmd.Flags().BoolVar(&f.stats, "stats", false, "print planning statistics to stderr")
	cmd.MarkFlagsMutuallyExclusive("snapshot", "ref", "as-of")
	return cmd
}

func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprint(v)
}

func newSnapshotsCommand(g *globals) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "snapshots <namespace.table>",
		Short: "List the snapshots and refs of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl, err := g.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			md := tbl.Metadata()
			if asJSON {
				enc := json.NewEncoder(out(cmd))
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"current-snapshot-id": md.CurrentSnapshotID,
					"snapshots":           md.Snapshots,
					"refs":                md.Refs,
					"snapshot-log":        md.SnapshotLog,
				})
			}

			refsBySnapshot := make(map[int64][]string)
			for _, name := range md.RefNames() {
				ref := md.Refs[name]
				refsBySnapshot[ref.SnapshotID] = append(refsBySnapshot[ref.SnapshotID], name)
			}
			w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SNAPSHOT\tPARENT\tSEQ\tTIMESTAMP\tOPERATION\tRECORDS\tFILES\tREFS")
			for _, s := range md.Snapshots {
				parent := "-"
				if s.ParentSnapshotID != nil {
					parent = strconv.FormatInt(*s.ParentSnapshotID, 10)
				}
				var op metadata.Operation
				if s.Summary != nil {
					op = s.Summary.Operation
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%d\t%d\t%s\n",
					s.SnapshotID, parent, s.SequenceNumber,
					time.UnixMilli(s.TimestampMs).UTC().Format(time.RFC3339), op,
					s.Summary.Int(snapshot.TotalRecords), s.Summary.Int(snapshot.TotalDataFiles),
					strings.Join(refsBySnapshot[s.SnapshotID], ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print snapshots, refs and the snapshot log as JSON")
	return cmd
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
