package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arkilian/strata/internal/maintenance"
	"github.com/arkilian/strata/internal/table"
)

const cleanupConcurrency = 8

func newExpireCommand(g *globals) *cobra.Command {
	var (
		olderThan  time.Duration
		retainLast int
		keepFiles  bool
	)
	cmd := &cobra.Command{
		Use:   "expire <namespace.table>",
		Short: "Expire old snapshots and delete the files only they referenced",
		Long: `Remove snapshots older than --older-than from the table metadata, keeping
every ref head and at least --retain-last ancestors of each branch, then
delete the data files, manifests and manifest lists no retained snapshot
reaches. Unset flags fall back to the table's history.expire.* properties.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl, err := g.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			opts := table.ExpireOptions{RetainLast: retainLast}
			if olderThan > 0 {
				opts.OlderThan = time.Now().Add(-olderThan)
			}
			tbl, res, err := tbl.ExpireSnapshots(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Expired %d snapshots of %s\n", len(res.Expired), tbl.Identifier())
			if len(res.Expired) == 0 || keepFiles {
				return nil
			}
			cleaner := maintenance.NewCleaner(g.tables().Store(), cleanupConcurrency, g.logger)
			cr, err := cleaner.Cleanup(cmd.Context(), res.Before, res.After)
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Deleted %d data files, %d manifests, %d manifest lists\n",
				len(cr.DataFiles), len(cr.Manifests), len(cr.ManifestLists))
			if len(cr.Errors) > 0 {
				return fmt.Errorf("%d files could not be deleted; run orphans --delete later", len(cr.Errors))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "expire snapshots older than this age")
	cmd.Flags().IntVar(&retainLast, "retain-last", 0, "ancestors of each branch head to keep")
	cmd.Flags().BoolVar(&keepFiles, "keep-files", false, "only update metadata, delete no files")
	return cmd
}

func newOrphansCommand(g *globals) *cobra.Command {
	var (
		olderThan time.Duration
		remove    bool
	)
	cmd := &cobra.Command{
		Use:   "orphans <namespace.table>",
		Short: "Find objects under the table location that no metadata references",
		Long: `List objects under the table location that are unreachable from the
current metadata, its snapshots and its metadata log. Objects younger than
--older-than are skipped since they may belong to a commit in flight.
With --delete the orphans are removed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl, err := g.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cleaner := maintenance.NewCleaner(g.tables().Store(), cleanupConcurrency, g.logger)
			orphans, err := cleaner.FindOrphans(cmd.Context(), tbl.Metadata(), tbl.MetadataLocation(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tSIZE\tLAST MODIFIED")
			for _, o := range orphans {
				fmt.Fprintf(w, "%s\t%d\t%s\n", o.Path, o.Size, o.LastModified.UTC().Format(time.RFC3339))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if !remove || len(orphans) == 0 {
				return nil
			}
			deleted, errs := cleaner.RemoveOrphans(cmd.Context(), orphans)
			fmt.Fprintf(out(cmd), "Deleted %d orphans\n", len(deleted))
			if len(errs) > 0 {
				return fmt.Errorf("%d orphans could not be deleted", len(errs))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 72*time.Hour, "minimum age of an orphan")
	cmd.Flags().BoolVar(&remove, "delete", false, "delete the orphans found")
	return cmd
}

func newCompactCommand(g *globals) *cobra.Command {
	var (
		opts   maintenance.CompactOptions
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "compact <namespace.table>",
		Short: "Rewrite small data files of each partition into larger ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl, err := g.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			compactor := maintenance.NewCompactor(g.tables().Store(), nil, g.logger)
			if dryRun {
				bins, err := compactor.Plan(cmd.Context(), tbl, opts)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "BIN\tFILES\tBYTES")
				for i, b := range bins {
					fmt.Fprintf(w, "%d\t%d\t%d\n", i, len(b.Tasks), b.Size)
				}
				return w.Flush()
			}
			_, res, err := compactor.Compact(cmd.Context(), tbl, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Compacted %s: %d bins, %d files rewritten into %d, %d bins failed validation\n",
				tbl.Identifier(), res.Bins, len(res.Removed), len(res.Added), res.Failed)
			return nil
		},
	}
	cmd.Flags().Int64Var(&opts.TargetFileSizeBytes, "target-size", 0, "target file size in bytes (default from table properties)")
	cmd.Flags().IntVar(&opts.MinInputFiles, "min-files", 0, "minimum files per partition to compact")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the planned bins without rewriting")
	return cmd
}
