package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"maskflow/internal/config"
	"maskflow/internal/domain"
	"maskflow/internal/service/runner"
)

// runCmdSpec describes one of the run commands.
type runCmdSpec struct {
	use   string
	short string
	kind  runner.Kind
	// bools maps flag names to the run parameter they override.
	bools map[string]func(*domain.RunParams) *bool
}

var (
	runDiscover = runCmdSpec{
		use:   "discover <run-file>",
		short: "Discover and profile the columns of the source dataset",
		kind:  runner.KindDiscovery,
		bools: map[string]func(*domain.RunParams) *bool{
			"rediscover":              func(p *domain.RunParams) *bool { return &p.Rediscover },
			"empty-tables-discovered": func(p *domain.RunParams) *bool { return &p.EmptyTablesDiscovered },
		},
	}
	runMask = runCmdSpec{
		use:   "mask <run-file>",
		short: "Copy the source dataset to the sink, masking assigned columns",
		kind:  runner.KindMasking,
		bools: map[string]func(*domain.RunParams) *bool{
			"truncate":              func(p *domain.RunParams) *bool { return &p.TruncateBeforeWrite },
			"copy-unmasked":         func(p *domain.RunParams) *bool { return &p.CopyUnmaskedTables },
			"copy-dataflow":         func(p *domain.RunParams) *bool { return &p.CopyUseDataflow },
			"fail-on-nonconformant": func(p *domain.RunParams) *bool { return &p.FailOnNonConformantData },
			"reapply-mapping":       func(p *domain.RunParams) *bool { return &p.ReapplyMapping },
		},
	}
)

var boolFlagUsage = map[string]string{
	"rediscover":              "Reset discovery state and profile every column again",
	"empty-tables-discovered": "Mark columns of empty tables discovered",
	"truncate":                "Truncate sink tables before writing",
	"copy-unmasked":           "Copy tables that have no masked columns",
	"copy-dataflow":           "Copy unmasked tables in batches instead of one bulk write",
	"fail-on-nonconformant":   "Ask the masking service to reject non-conformant values",
	"reapply-mapping":         "Clear mapping checkpoints and mask every table again",
}

func newRunCmd(spec runCmdSpec) *cobra.Command {
	var maxConcurrency int

	cmd := &cobra.Command{
		Use:   spec.use,
		Short: spec.short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			rf, err := config.LoadRunFile(args[0], s.cfg.RunDefaults())
			if err != nil {
				return err
			}
			applyRunFlags(cmd.Flags(), spec, rf.Params)
			if cmd.Flags().Changed("max-concurrency") {
				rf.Params.MaxConcurrency = maxConcurrency
			}

			run, err := s.app.Runner.Execute(cmd.Context(), spec.kind, rf)
			if err != nil {
				return err
			}
			if err := printRun(cmd, run); err != nil {
				return err
			}
			if run.State != domain.RunStatusSucceeded {
				return fmt.Errorf("%s run %s finished with status %s", run.Kind, run.ID, run.State)
			}
			return nil
		},
	}

	for name := range spec.bools {
		cmd.Flags().Bool(name, false, boolFlagUsage[name])
	}
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 0, "Tables processed in parallel")
	return cmd
}

// applyRunFlags overrides run parameters with the flags set on the command
// line. Unset flags keep the run file's values.
func applyRunFlags(flags *pflag.FlagSet, spec runCmdSpec, p *domain.RunParams) {
	for name, field := range spec.bools {
		if !flags.Changed(name) {
			continue
		}
		v, _ := flags.GetBool(name)
		*field(p) = v
	}
}

func printRun(cmd *cobra.Command, run runner.Run) error {
	return render(cmd, run, func(w io.Writer) {
		_, _ = fmt.Fprintf(w, "run %s (%s) %s\n\n", run.ID, run.Kind, run.State)
		rows := make([][]string, 0, len(run.Tables))
		for _, t := range run.Tables {
			rows = append(rows, []string{t.Table.String(), t.Status, detailSummary(t.Details), t.Error})
		}
		printTable(w, []string{"table", "status", "details", "error"}, rows)
		if run.Error != "" {
			_, _ = fmt.Fprintf(w, "\n%s\n", run.Error)
		}
	})
}

// detailSummary renders the details worth a table column.
func detailSummary(details map[string]string) string {
	var parts []string
	for _, k := range []string{"mode", "sampled_rows", "changed_columns", "rows_read", "rows_written", "unmapped_rows", "empty"} {
		if v, ok := details[k]; ok {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, " ")
}
