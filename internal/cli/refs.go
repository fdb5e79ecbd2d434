package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arkilian/strata/internal/table"
)

type refFlags struct {
	snapshotID int64
	remove     bool
}

func (f *refFlags) target(cmd *cobra.Command) *int64 {
	if !cmd.Flags().Changed("snapshot") {
		return nil
	}
	id := f.snapshotID
	return &id
}

func newRefCommand(g *globals, kind string, create func(*table.Table, *cobra.Command, string, *int64) (*table.Table, error)) *cobra.Command {
	var f refFlags
	cmd := &cobra.Command{
		Use:   kind + " <namespace.table> <name>",
		Short: fmt.Sprintf("Create or remove a %s", kind),
		Long: fmt.Sprintf(`Create a %[1]s pointing at --snapshot, or at the current snapshot when
--snapshot is not given. With --delete the %[1]s is removed; its snapshots
stay until expired.`, kind),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl, err := g.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			name := args[1]
			if f.remove {
				if _, err := tbl.RemoveRef(cmd.Context(), name); err != nil {
					return err
				}
				fmt.Fprintf(out(cmd), "Removed %s %s of %s\n", kind, name, tbl.Identifier())
				return nil
			}
			if tbl, err = create(tbl, cmd, name, f.target(cmd)); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Created %s %s of %s at snapshot %d\n",
				kind, name, tbl.Identifier(), tbl.Metadata().Refs[name].SnapshotID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&f.snapshotID, "snapshot", 0, "snapshot ID the ref points to")
	cmd.Flags().BoolVar(&f.remove, "delete", false, "remove the ref")
	cmd.MarkFlagsMutuallyExclusive("snapshot", "delete")
	return cmd
}

func newBranchCommand(g *globals) *cobra.Command {
	var from string
	cmd := newRefCommand(g, "branch", func(tbl *table.Table, cmd *cobra.Command, name string, id *int64) (*table.Table, error) {
		if from != "" {
			return tbl.FastForward(cmd.Context(), name, from)
		}
		return tbl.CreateBranch(cmd.Context(), name, id)
	})
	cmd.Flags().StringVar(&from, "fast-forward-to", "", "move an existing branch to the head of this ref")
	return cmd
}

func newTagCommand(g *globals) *cobra.Command {
	return newRefCommand(g, "tag", func(tbl *table.Table, cmd *cobra.Command, name string, id *int64) (*table.Table, error) {
		return tbl.CreateTag(cmd.Context(), name, id)
	})
}

func newRollbackCommand(g *globals) *cobra.Command {
	var (
		snapshotID int64
		timestamp  string
	)
	cmd := &cobra.Command{
		Use:   "rollback <namespace.table>",
		Short: "Point main at an earlier snapshot",
		Long: `Point the main branch at an ancestor of its current snapshot, given by
ID or by the time it was current. No data is deleted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl, err := g.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			switch {
			case cmd.Flags().Changed("to-snapshot"):
				tbl, err = tbl.Rollback(cmd.Context(), snapshotID)
			case timestamp != "":
				ts, perr := parseTimestamp(timestamp)
				if perr != nil {
					return perr
				}
				tbl, err = tbl.RollbackTo(cmd.Context(), ts)
			default:
				return fmt.Errorf("one of --to-snapshot or --to-timestamp is required")
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Rolled back %s to snapshot %d\n", tbl.Identifier(), tbl.CurrentSnapshot().SnapshotID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&snapshotID, "to-snapshot", 0, "snapshot ID to roll back to")
	cmd.Flags().StringVar(&timestamp, "to-timestamp", "", "roll back to the snapshot current at this time (epoch ms or RFC 3339)")
	cmd.MarkFlagsMutuallyExclusive("to-snapshot", "to-timestamp")
	return cmd
}
