package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/spf13/cobra"

	"github.com/orneryd/vertexdb/pkg/storage"
)

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := db.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Schema at version %s\n", color.GreenString("%d", version))
			return nil
		},
	}
}

func newStatsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show vertex and edge counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			stats, err := db.Stats(cmd.Context())
			if err != nil {
				return err
			}

			table := newTable(cmd.OutOrStdout())
			table.Header("Backend", "Vertices", "Edges")
			if err := table.Append(stats.Backend, countString(stats.Vertices), countString(stats.Edges)); err != nil {
				return err
			}
			return table.Render()
		},
	}
}

func newImportCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Bulk load a JSON-lines graph dump (- reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			db, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			stats, err := db.Import(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Imported %s vertices, %s edges, %s properties\n",
				color.GreenString("%d", stats.Vertices),
				color.GreenString("%d", stats.Edges),
				color.GreenString("%d", stats.Properties))
			return nil
		},
	}
}

func newDumpCmd(flags *globalFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Write the whole graph as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			db, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			stats, err := db.Export(cmd.Context(), out)
			if err != nil {
				return err
			}
			if output != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "✅ Wrote %d vertices and %d edges to %s\n", stats.Vertices, stats.Edges, output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func newVerticesCmd(flags *globalFlags) *cobra.Command {
	var (
		typeName string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "vertices",
		Short: "List vertices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := storage.AllVertices()
			if typeName != "" {
				t, err := storage.NewType(typeName)
				if err != nil {
					return err
				}
				q = storage.VerticesOfType(t)
			}

			db, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			tx, err := db.Transaction()
			if err != nil {
				return err
			}
			vertices, err := tx.GetVertices(cmd.Context(), storage.LimitVertices(q, limit))
			if err != nil {
				return err
			}

			table := newTable(cmd.OutOrStdout())
			table.Header("ID", "Type")
			for _, v := range vertices {
				if err := table.Append(v.ID.String(), string(v.Type)); err != nil {
					return err
				}
			}
			if err := table.Render(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s vertices\n", countString(uint64(len(vertices))))
			return nil
		},
	}
	cmd.Flags().StringVar(&typeName, "type", "", "Only vertices of this type")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of vertices")
	return cmd
}

func newEdgesCmd(flags *globalFlags) *cobra.Command {
	var (
		from     string
		typeName string
		inbound  bool
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "edges",
		Short: "List the edges of a vertex",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(from)
			if err != nil {
				return fmt.Errorf("invalid --from id: %w", err)
			}
			var t *storage.Type
			if typeName != "" {
				parsed, err := storage.NewType(typeName)
				if err != nil {
					return err
				}
				t = &parsed
			}
			dir := storage.Outbound
			if inbound {
				dir = storage.Inbound
			}

			db, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			tx, err := db.Transaction()
			if err != nil {
				return err
			}
			q := storage.LimitEdges(storage.PipeEdges(storage.SpecificVertices(id), dir, t), limit)
			edges, err := tx.GetEdges(cmd.Context(), q)
			if err != nil {
				return err
			}

			table := newTable(cmd.OutOrStdout())
			table.Header("Outbound", "Type", "Inbound", "Updated")
			for _, e := range edges {
				row := []string{
					e.Key.OutboundID.String(),
					string(e.Key.Type),
					e.Key.InboundID.String(),
					e.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
				}
				if err := table.Append(row); err != nil {
					return err
				}
			}
			if err := table.Render(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s edges\n", countString(uint64(len(edges))), dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Vertex id")
	cmd.Flags().StringVar(&typeName, "type", "", "Only edges of this type")
	cmd.Flags().BoolVar(&inbound, "inbound", false, "List inbound instead of outbound edges")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of edges")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func newCompactCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Garbage-collect the Badger value log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Compact(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✅ Compaction finished")
			return nil
		},
	}
}

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w, tablewriter.WithRenderer(renderer.NewMarkdown()))
}

// countString colors a count: yellow when empty, green otherwise.
func countString(n uint64) string {
	if n == 0 {
		return color.YellowString("%d", n)
	}
	return color.GreenString("%d", n)
}
