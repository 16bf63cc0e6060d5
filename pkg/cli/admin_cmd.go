package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"maskflow/internal/domain"
)

func newTypeMapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "typemap",
		Short: "Manage source-to-service type mappings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "load <file>",
		Short: "Load a YAML type mapping file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.app.LoadTypeMappings(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return render(cmd, map[string]int{"loaded": n}, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "loaded %d type mapping(s)\n", n)
			})
		},
	})
	return cmd
}

// tableFlags binds the flags that name a table of a dataset.
type tableFlags struct {
	dataset  string
	database string
	schema   string
	table    string
}

func (f *tableFlags) bind(cmd *cobra.Command, prefix string) {
	cmd.Flags().StringVar(&f.dataset, prefix+"dataset", "", "Dataset name")
	cmd.Flags().StringVar(&f.database, prefix+"database", "", "Database")
	cmd.Flags().StringVar(&f.schema, prefix+"schema", "", "Schema")
	cmd.Flags().StringVar(&f.table, prefix+"table", "", "Table")
}

func (f *tableFlags) ref() domain.TableRef {
	return domain.TableRef{Database: f.database, Schema: f.schema, Table: f.table}
}

func newRulesetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ruleset",
		Short: "Inspect discovered columns and assign masking algorithms",
	}
	cmd.AddCommand(newRulesetListCmd(), newRulesetAssignCmd())
	return cmd
}

func newRulesetListCmd() *cobra.Command {
	var t tableFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the discovered columns of a table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if t.dataset == "" || t.table == "" {
				return domain.ErrValidation("--dataset and --table are required")
			}
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.app.Repos.Ruleset.ListByTable(cmd.Context(), t.dataset, t.ref())
			if err != nil {
				return err
			}
			return render(cmd, entries, func(w io.Writer) {
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{
						e.Column, e.IdentifiedColumnType, e.ProfiledDomain, e.ProfiledAlgorithm,
						e.AssignedAlgorithm, strconv.FormatBool(e.DiscoveryCompleted),
					})
				}
				printTable(w, []string{"column", "type", "domain", "profiled", "assigned", "discovered"}, rows)
			})
		},
	}
	t.bind(cmd, "")
	return cmd
}

func newRulesetAssignCmd() *cobra.Command {
	var (
		t         tableFlags
		column    string
		algorithm string
		metadata  string
	)
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Set the masking algorithm of a column",
		Long: "Set the masking algorithm of a column. --algorithm takes an algorithm name, " +
			"a JSON array of key-column conditions or a JSON object of per-alias algorithms. " +
			"An empty --algorithm clears the assignment.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if t.dataset == "" || t.table == "" || column == "" {
				return domain.ErrValidation("--dataset, --table and --column are required")
			}
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			key := domain.RulesetKey{Dataset: t.dataset, Database: t.database, Schema: t.schema, Table: t.table, Column: column}
			if err := s.app.AssignAlgorithm(cmd.Context(), key, algorithm, metadata); err != nil {
				return err
			}
			return render(cmd, map[string]string{"column": column, "assigned_algorithm": algorithm}, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "assigned %q to %s.%s\n", algorithm, t.ref(), column)
			})
		},
	}
	t.bind(cmd, "")
	cmd.Flags().StringVar(&column, "column", "", "Column")
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "Algorithm assignment")
	cmd.Flags().StringVar(&metadata, "metadata", "", "Algorithm metadata JSON (date_format, treat_as_string, ...)")
	return cmd
}

func newMappingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Manage source-to-sink table mappings",
	}
	cmd.AddCommand(newMappingAddCmd(), newMappingListCmd(), newMappingAutogenCmd())
	return cmd
}

func newMappingAddCmd() *cobra.Command {
	var src, sink tableFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Map a source table to a sink table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			m, err := s.app.Repos.Mappings.Upsert(cmd.Context(), &domain.DataMapping{
				SourceDataset: src.dataset, Source: src.ref(),
				SinkDataset: sink.dataset, Sink: sink.ref(),
			})
			if err != nil {
				return err
			}
			return printMappings(cmd, []domain.DataMapping{*m})
		},
	}
	src.bind(cmd, "source-")
	sink.bind(cmd, "sink-")
	return cmd
}

func newMappingListCmd() *cobra.Command {
	var scope domain.MappingScope
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List table mappings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			mappings, err := s.app.Repos.Mappings.List(cmd.Context(), scope)
			if err != nil {
				return err
			}
			return printMappings(cmd, mappings)
		},
	}
	cmd.Flags().StringVar(&scope.SourceDataset, "source-dataset", "", "Source dataset")
	cmd.Flags().StringVar(&scope.SinkDataset, "sink-dataset", "", "Sink dataset")
	return cmd
}

func newMappingAutogenCmd() *cobra.Command {
	var (
		scope       domain.RulesetScope
		sinkDataset string
		sinkSchema  string
	)
	cmd := &cobra.Command{
		Use:   "autogen",
		Short: "Map every discovered table to a same-named sink table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			mappings, err := s.app.AutogenMappings(cmd.Context(), scope, sinkDataset, sinkSchema)
			if err != nil {
				return err
			}
			return printMappings(cmd, mappings)
		},
	}
	cmd.Flags().StringVar(&scope.Dataset, "source-dataset", "", "Source dataset")
	cmd.Flags().StringVar(&scope.Database, "source-database", "", "Restrict to a source database")
	cmd.Flags().StringVar(&scope.Schema, "source-schema", "", "Restrict to a source schema")
	cmd.Flags().StringVar(&sinkDataset, "sink-dataset", "", "Sink dataset")
	cmd.Flags().StringVar(&sinkSchema, "sink-schema", "", "Sink schema (default: the source schema)")
	return cmd
}

type mappingJSON struct {
	ID              int64               `json:"id"`
	SourceDataset   string              `json:"source_dataset"`
	Source          string              `json:"source_table"`
	SinkDataset     string              `json:"sink_dataset"`
	Sink            string              `json:"sink_table"`
	MappingComplete bool                `json:"mapping_complete"`
	MaskedStatus    domain.MaskedStatus `json:"masked_status"`
}

func printMappings(cmd *cobra.Command, mappings []domain.DataMapping) error {
	out := make([]mappingJSON, 0, len(mappings))
	for _, m := range mappings {
		out = append(out, mappingJSON{
			ID: m.ID, SourceDataset: m.SourceDataset, Source: m.Source.String(),
			SinkDataset: m.SinkDataset, Sink: m.Sink.String(),
			MappingComplete: m.MappingComplete, MaskedStatus: m.MaskedStatus,
		})
	}
	return render(cmd, out, func(w io.Writer) {
		rows := make([][]string, 0, len(out))
		for _, m := range out {
			rows = append(rows, []string{
				strconv.FormatInt(m.ID, 10), m.SourceDataset + ":" + m.Source, m.SinkDataset + ":" + m.Sink,
				strconv.FormatBool(m.MappingComplete), m.MaskedStatus.State,
			})
		}
		printTable(w, []string{"id", "source", "sink", "complete", "state"}, rows)
	})
}
