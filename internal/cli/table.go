package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/arkilian/strata/internal/partition"
	"github.com/arkilian/strata/internal/schema"
	"github.com/arkilian/strata/pkg/types"
)

func newTableCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Create, list, describe and drop tables",
	}
	cmd.AddCommand(
		newTableCreateCommand(g),
		newTableListCommand(g),
		newTableDescribeCommand(g),
		newTableDropCommand(g),
	)
	return cmd
}

func newTableCreateCommand(g *globals) *cobra.Command {
	var (
		columns    []string
		partitions []string
		props      map[string]string
	)
	cmd := &cobra.Command{
		Use:   "create <namespace.table>",
		Short: "Create a table",
		Long: `Create a table with the given columns and partition fields.

Columns are name:type[:required]. Partition fields are column[:transform[:name]],
where transform is identity, bucket[N], truncate[W], year, month, day, hour or void.

Examples:
  strata table create db.events --column id:long:required --column ts:timestamptz --column level:string \
    --partition level --partition ts:day --partition id:bucket[16]`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIdentifier(args[0])
			if err != nil {
				return err
			}
			sch, err := parseColumns(columns)
			if err != nil {
				return err
			}
			spec, err := parsePartitions(sch, partitions)
			if err != nil {
				return err
			}
			tbl, err := g.tables().Create(cmd.Context(), id, sch, spec, props)
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Created table %s at %s\n", tbl.Identifier(), tbl.MetadataLocation())
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&columns, "column", nil, "column as name:type[:required] (repeatable)")
	cmd.Flags().StringArrayVar(&partitions, "partition", nil, "partition field as column[:transform[:name]] (repeatable)")
	cmd.Flags().StringToStringVar(&props, "property", nil, "table property key=value (repeatable)")
	_ = cmd.MarkFlagRequired("column")
	return cmd
}

// parseColumns builds a schema from name:type[:required] specs. Field IDs
// are placeholders; the table assigns fresh ones.
func parseColumns(specs []string) (*schema.Schema, error) {
	fields := make([]schema.Field, 0, len(specs))
	for i, s := range specs {
		parts := strings.Split(s, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
			return nil, fmt.Errorf("invalid column %q: expected name:type[:required]", s)
		}
		typ, err := types.ParseType(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid column %q: %w", s, err)
		}
		f := schema.Field{ID: i + 1, Name: parts[0], Type: typ}
		if len(parts) == 3 {
			if parts[2] != "required" {
				return nil, fmt.Errorf("invalid column %q: unknown modifier %q", s, parts[2])
			}
			f.Required = true
		}
		fields = append(fields, f)
	}
	return schema.New(0, fields...), nil
}

func parsePartitions(sch *schema.Schema, specs []string) (*partition.Spec, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	b := partition.NewSpecBuilder(sch, 0, 0)
	for _, s := range specs {
		parts := strings.SplitN(s, ":", 3)
		t := partition.Transform{Kind: partition.Identity}
		if len(parts) > 1 {
			var err error
			if t, err = partition.ParseTransform(parts[1]); err != nil {
				return nil, fmt.Errorf("invalid partition %q: %w", s, err)
			}
		}
		name := ""
		if len(parts) == 3 {
			name = parts[2]
		}
		b.Add(parts[0], t, name)
	}
	spec, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("invalid partition: %w", err)
	}
	return spec, nil
}

func newTableListCommand(g *globals) *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tables of a namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ids, err := g.tables().List(cmd.Context(), namespace)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(out(cmd), id)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "default", "namespace to list")
	return cmd
}

func newTableDescribeCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <namespace.table>",
		Short: "Show the schema, partitioning and properties of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl, err := g.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			md := tbl.Metadata()
			w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Table:\t%s\n", tbl.Identifier())
			fmt.Fprintf(w, "UUID:\t%s\n", md.TableUUID)
			fmt.Fprintf(w, "Location:\t%s\n", md.Location)
			fmt.Fprintf(w, "Metadata:\t%s\n", tbl.MetadataLocation())
			fmt.Fprintf(w, "Format version:\t%d\n", md.FormatVersion)
			if snap := tbl.CurrentSnapshot(); snap != nil {
				fmt.Fprintf(w, "Current snapshot:\t%d\n", snap.SnapshotID)
			} else {
				fmt.Fprintf(w, "Current snapshot:\t-\n")
			}
			fmt.Fprintln(w)

			fmt.Fprintf(w, "ID\tCOLUMN\tTYPE\tREQUIRED\n")
			for _, f := range tbl.Schema().Fields {
				fmt.Fprintf(w, "%d\t%s\t%s\t%t\n", f.ID, f.Name, f.Type, f.Required)
			}
			if spec := tbl.Spec(); len(spec.Fields) > 0 {
				fmt.Fprintln(w)
				fmt.Fprintf(w, "PARTITION FIELD\tSOURCE\tTRANSFORM\n")
				for _, f := range spec.Fields {
					src, _ := tbl.Schema().FieldByID(f.SourceID)
					fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, src.Name, f.Transform)
				}
			}
			if len(md.Properties) > 0 {
				fmt.Fprintln(w)
				fmt.Fprintf(w, "PROPERTY\tVALUE\n")
				for _, k := range sortedKeys(md.Properties) {
					fmt.Fprintf(w, "%s\t%s\n", k, md.Properties[k])
				}
			}
			return w.Flush()
		},
	}
}

func newTableDropCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <namespace.table>",
		Short: "Unregister a table. Its files are left in place.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIdentifier(args[0])
			if err != nil {
				return err
			}
			if err := g.tables().Drop(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Dropped table %s\n", id)
			return nil
		},
	}
}

func newAddColumnCommand(g *globals) *cobra.Command {
	var (
		required bool
		doc      string
	)
	cmd := &cobra.Command{
		Use:   "add-column <namespace.table> <name> <type>",
		Short: "Add a column to the table schema",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := types.ParseType(args[2])
			if err != nil {
				return err
			}
			return evolve(cmd, g, args[0], func(u *schema.Update) error {
				return u.AddColumn(args[1], typ, required, doc)
			})
		},
	}
	cmd.Flags().BoolVar(&required, "required", false, "mark the column required")
	cmd.Flags().StringVar(&doc, "doc", "", "column documentation")
	return cmd
}

func newDropColumnCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "drop-column <namespace.table> <name>",
		Short: "Drop a column from the table schema",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return evolve(cmd, g, args[0], func(u *schema.Update) error {
				return u.DeleteColumn(args[1])
			})
		},
	}
}

func newRenameColumnCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "rename-column <namespace.table> <from> <to>",
		Short: "Rename a column",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return evolve(cmd, g, args[0], func(u *schema.Update) error {
				return u.RenameColumn(args[1], args[2])
			})
		},
	}
}

func evolve(cmd *cobra.Command, g *globals, arg string, fn func(*schema.Update) error) error {
	tbl, err := g.load(cmd.Context(), arg)
	if err != nil {
		return err
	}
	tbl, err = tbl.UpdateSchema(cmd.Context(), fn)
	if err != nil {
		return err
	}
	fmt.Fprintf(out(cmd), "Schema of %s is now %d: %s\n", tbl.Identifier(), tbl.Schema().SchemaID, tbl.Schema())
	return nil
}
