package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/nainya/rowstore/pkg/dynamic"
	"github.com/nainya/rowstore/pkg/rowstore"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "RowStore v%s (%s)\n", Version, GitCommit)
		},
	}
}

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database and its tables from the schema file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := GetConfig(cmd.Context())
			store, err := openStore(cfg, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Store %s at %s\n", store.ID(), store.Path())
			for _, name := range store.Tables() {
				n, err := store.Count(name)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "  %-24s %d rows\n", name, n)
			}
			return nil
		},
	}
}

func newPutCommand() *cobra.Command {
	var row int64

	cmd := &cobra.Command{
		Use:   "put <entity> [field=value ...]",
		Short: "Create a row, or update one with --row",
		Long: `Create a row of <entity> and assign the given fields, or update row --row.

Values are YAML scalars: 3, 1.5, true, null, [0, 2]. String fields take the
text as is. Links take a row index, binary takes base64 and timestamps take
RFC 3339.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetConfig(cmd.Context())
			store, err := openStore(cfg, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			entity := args[0]
			sch, err := store.SchemaFor(entity)
			if err != nil {
				return err
			}
			values, err := parseAssignments(sch, args[1:])
			if err != nil {
				return err
			}

			var obj *dynamic.Object
			err = store.Write(func() error {
				var err error
				if cmd.Flags().Changed("row") {
					obj, err = dynamic.Open(store, entity, row)
				} else {
					var h rowstore.RowHandle
					if h, err = store.CreateRow(entity); err == nil {
						obj, err = dynamic.New(store, sch, h)
					}
				}
				if err != nil {
					return err
				}
				return obj.Assign(values)
			})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), obj.String())
			return nil
		},
	}

	cmd.Flags().Int64Var(&row, "row", 0, "Row index to update instead of creating a row")
	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "get <entity> [row]",
		Aliases: []string{"inspect"},
		Short:   "Print one row as JSON, or list the rows of an entity",
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetConfig(cmd.Context())
			store, err := openStore(cfg, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				rows, err := store.Rows(args[0])
				if err != nil {
					return err
				}
				for _, h := range rows {
					obj, err := dynamic.Wrap(store, h)
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintf(out, "%d\t%s\n", h.Index(), obj)
				}
				return nil
			}

			index, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid row %q: %w", args[1], err)
			}
			obj, err := dynamic.Open(store, args[0], index)
			if err != nil {
				return err
			}
			st, err := obj.AsStruct()
			if err != nil {
				return err
			}
			data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(st)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, string(data))
			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <entity> <row>",
		Short: "Delete a row",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid row %q: %w", args[1], err)
			}

			cfg := GetConfig(cmd.Context())
			store, err := openStore(cfg, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			return store.Write(func() error {
				h, err := store.OpenRow(args[0], index)
				if err != nil {
					return err
				}
				return store.DeleteRow(h)
			})
		},
	}
}
