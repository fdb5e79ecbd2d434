package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/arkilian/strata/internal/expr"
	"github.com/arkilian/strata/internal/metadata"
	"github.com/arkilian/strata/internal/snapshot"
	"github.com/arkilian/strata/internal/table"
	"github.com/arkilian/strata/pkg/types"
)

const maxLineBytes = 16 << 20

// readRows decodes one JSON object per line. Blank lines are skipped.
func readRows(r io.Reader) ([]types.Row, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	var rows []types.Row
	for line := 1; sc.Scan(); line++ {
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		var row map[string]any
		if err := dec.Decode(&row); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, sc.Err()
}

type rowSource struct {
	file string
}

func (s *rowSource) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&s.file, "file", "f", "-", "JSON lines file to read rows from, - for stdin")
}

func (s *rowSource) read(cmd *cobra.Command) ([]types.Row, error) {
	if s.file == "-" {
		return readRows(cmd.InOrStdin())
	}
	f, err := os.Open(s.file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readRows(f)
}

type writeFlags struct {
	branch  string
	summary map[string]string
}

func (w *writeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&w.branch, "branch", "", "branch to commit to (default main)")
	cmd.Flags().StringToStringVar(&w.summary, "summary", nil, "extra snapshot summary property key=value")
}

func (w *writeFlags) options() []table.WriteOption {
	var opts []table.WriteOption
	if w.branch != "" {
		opts = append(opts, table.ToBranch(w.branch))
	}
	if len(w.summary) > 0 {
		opts = append(opts, table.WithSummary(w.summary))
	}
	return opts
}

func parseFilter(s string) (expr.Expression, error) {
	if s == "" {
		return expr.AlwaysTrue, nil
	}
	e, err := expr.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	return e, nil
}

func newAppendCommand(g *globals) *cobra.Command {
	var (
		src rowSource
		wf  writeFlags
	)
	cmd := &cobra.Command{
		Use:   "append <namespace.table>",
		Short: "Append JSON lines rows as a new snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := src.read(cmd)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return fmt.Errorf("no rows to append")
			}
			tbl, err := g.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if tbl, err = tbl.Append(cmd.Context(), rows, wf.options()...); err != nil {
				return err
			}
			return printCommit(cmd, tbl, wf.branch)
		},
	}
	src.register(cmd)
	wf.register(cmd)
	return cmd
}

func newOverwriteCommand(g *globals) *cobra.Command {
	var (
		src    rowSource
		wf     writeFlags
		filter string
	)
	cmd := &cobra.Command{
		Use:   "overwrite <namespace.table>",
		Short: "Replace the rows matching a filter with new rows",
		Long: `Replace the rows matching --filter with the rows read from --file in one
snapshot. Without --filter every row of the table is replaced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := parseFilter(filter)
			if err != nil {
				return err
			}
			rows, err := src.read(cmd)
			if err != nil {
				return err
			}
			tbl, err := g.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if tbl, err = tbl.Overwrite(cmd.Context(), e, rows, wf.options()...); err != nil {
				return err
			}
			return printCommit(cmd, tbl, wf.branch)
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "rows to replace")
	src.register(cmd)
	wf.register(cmd)
	return cmd
}

func newDeleteCommand(g *globals) *cobra.Command {
	var (
		wf     writeFlags
		filter string
	)
	cmd := &cobra.Command{
		Use:   "delete <namespace.table>",
		Short: "Delete the rows matching a filter",
		Long: `Delete the rows matching --filter. Under the table property
write.delete.mode=merge-on-read, affected files get position delete files
instead of being rewritten.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := parseFilter(filter)
			if err != nil {
				return err
			}
			tbl, err := g.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if tbl, err = tbl.Delete(cmd.Context(), e, wf.options()...); err != nil {
				return err
			}
			return printCommit(cmd, tbl, wf.branch)
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "rows to delete")
	_ = cmd.MarkFlagRequired("filter")
	wf.register(cmd)
	return cmd
}

func printCommit(cmd *cobra.Command, tbl *table.Table, branch string) error {
	if branch == "" {
		branch = metadata.MainBranch
	}
	snap, _ := tbl.Metadata().SnapshotByRef(branch)
	if snap == nil || snap.Summary == nil {
		fmt.Fprintf(out(cmd), "Nothing committed to %s of %s\n", branch, tbl.Identifier())
		return nil
	}
	fmt.Fprintf(out(cmd), "Committed snapshot %d (%s) to %s of %s: +%d files, -%d files, %d records\n",
		snap.SnapshotID, snap.Summary.Operation, branch, tbl.Identifier(),
		snap.Summary.Int(snapshot.AddedDataFiles), snap.Summary.Int(snapshot.DeletedDataFiles),
		snap.Summary.Int(snapshot.TotalRecords))
	return nil
}
