package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/riskbatch/internal/app"
	"github.com/tigerroll/riskbatch/pkg/batch/adapter/database"
	"github.com/tigerroll/riskbatch/pkg/batch/component/export"
	"github.com/tigerroll/riskbatch/pkg/batch/core/application/usecase"
	"github.com/tigerroll/riskbatch/pkg/batch/core/config"
	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
)

type rootOptions struct {
	envFile  string
	embedded []byte
	out      io.Writer
}

func (o *rootOptions) options() fx.Option {
	return app.Options(o.envFile, config.EmbeddedConfig(o.embedded))
}

func newRootCommand(embedded []byte) *cobra.Command {
	opts := &rootOptions{embedded: embedded, out: os.Stdout}
	root := &cobra.Command{
		Use:           "riskbatch",
		Short:         "Administer the risk result store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", envOr("ENV_FILE_PATH", ".env"), "dotenv file loaded before the configuration")

	root.AddCommand(
		newMigrateCommand(opts),
		newRunsCommand(opts),
		newShowCommand(opts),
		newEndCommand(opts),
		newDeleteCommand(opts),
		newExportCommand(opts),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseRunID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run id %q", arg)
	}
	return id, nil
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the risk store schema, or roll it back with --down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				resolver database.DBConnectionResolver
				infra    *config.InfrastructureConfig
			)
			return app.Execute(cmd.Context(), opts.options(), func(ctx context.Context) error {
				migrator, err := app.NewRiskMigrator(ctx, resolver, infra)
				if err != nil {
					return err
				}
				if down {
					err = migrator.Down(ctx)
				} else {
					err = migrator.Up(ctx)
				}
				if err != nil {
					return err
				}
				version, dirty, ok, err := migrator.Version(ctx)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(opts.out, "schema: empty")
					return nil
				}
				fmt.Fprintf(opts.out, "schema: version %d (dirty=%t)\n", version, dirty)
				return nil
			}, &resolver, &infra)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll every migration back")
	return cmd
}

func newRunsCommand(opts *rootOptions) *cobra.Command {
	var (
		from, to    string
		completeArg string
		paging      model.Paging
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs by valuation time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := runFilter(from, to, completeArg)
			if err != nil {
				return err
			}
			var (
				explorer usecase.ResultExplorer
				system   *config.Config
			)
			return app.Execute(cmd.Context(), opts.options(), func(ctx context.Context) error {
				result, err := explorer.SearchRuns(ctx, filter, paging)
				if err != nil {
					return err
				}
				loc := location(system.RiskBatch.System.Timezone)
				w := tabwriter.NewWriter(opts.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tVALUATION\tVIEW\tSTATUS\tRESTARTS\tNAME")
				for _, r := range result.Runs {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n", r.ID, r.Identity.ValuationTime.In(loc).Format(time.RFC3339),
						r.Identity.ViewDefinitionUID, r.State(), r.NumRestarts, r.Name)
				}
				fmt.Fprintf(w, "\t\t\t\t\t(%d of %d)\n", len(result.Runs), result.Total)
				return w.Flush()
			}, &explorer, &system)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "earliest valuation time (RFC 3339)")
	cmd.Flags().StringVar(&to, "to", "", "latest valuation time (RFC 3339)")
	cmd.Flags().StringVar(&completeArg, "complete", "", "only complete (true) or running (false) runs")
	cmd.Flags().IntVar(&paging.First, "first", 0, "index of the first run")
	cmd.Flags().IntVar(&paging.Size, "size", 50, "page size, 0 for all")
	return cmd
}

func runFilter(from, to, complete string) (model.RunSearchFilter, error) {
	var filter model.RunSearchFilter
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return filter, fmt.Errorf("--from: %w", err)
		}
		filter.ValuationFrom = &t
	}
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return filter, fmt.Errorf("--to: %w", err)
		}
		filter.ValuationTo = &t
	}
	if complete != "" {
		b, err := strconv.ParseBool(complete)
		if err != nil {
			return filter, fmt.Errorf("--complete: %w", err)
		}
		filter.Complete = &b
	}
	return filter, nil
}

func location(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// runView is the YAML rendering of a run document.
type runView struct {
	ID                        int64             `yaml:"id"`
	Name                      string            `yaml:"name,omitempty"`
	Status                    string            `yaml:"status"`
	Identity                  string            `yaml:"identity"`
	Created                   time.Time         `yaml:"created"`
	Started                   time.Time         `yaml:"started"`
	Ended                     *time.Time        `yaml:"ended,omitempty"`
	Restarts                  int               `yaml:"restarts"`
	Parameters                map[string]string `yaml:"parameters,omitempty"`
	CalculationConfigurations []string          `yaml:"calculation_configurations"`
	TotalValues               int64             `yaml:"total_values"`
	Values                    []valueView       `yaml:"values,omitempty"`
	TotalErrors               int64             `yaml:"total_errors"`
	Errors                    []errorView       `yaml:"errors,omitempty"`
}

type valueView struct {
	CalculationConfiguration string  `yaml:"calc_config"`
	Target                   string  `yaml:"target"`
	ValueName                string  `yaml:"value_name"`
	Value                    float64 `yaml:"value"`
}

type errorView struct {
	CalculationConfiguration string   `yaml:"calc_config"`
	Target                   string   `yaml:"target"`
	ValueName                string   `yaml:"value_name"`
	Causes                   []string `yaml:"causes"`
}

func newRunView(doc *model.RunDocument) runView {
	r := doc.Run
	v := runView{
		ID:                        r.ID,
		Name:                      r.Name,
		Status:                    doc.Status,
		Identity:                  r.Identity.String(),
		Created:                   r.CreateInstant,
		Started:                   r.StartInstant,
		Ended:                     r.EndInstant,
		Restarts:                  r.NumRestarts,
		Parameters:                r.Parameters,
		CalculationConfigurations: r.CalculationConfigurationNames(),
		TotalValues:               doc.TotalValues,
		TotalErrors:               doc.TotalErrors,
	}
	for _, sv := range doc.Values {
		v.Values = append(v.Values, valueView{sv.CalculationConfiguration, sv.Target.UniqueID(), sv.ValueName, sv.Value})
	}
	for _, se := range doc.Errors {
		ev := errorView{CalculationConfiguration: se.CalculationConfiguration, Target: se.Target.UniqueID(), ValueName: se.ValueName}
		for _, c := range se.Causes {
			ev.Causes = append(ev.Causes, c.ExceptionClass+": "+c.Message)
		}
		v.Errors = append(v.Errors, ev)
	}
	return v
}

func newShowCommand(opts *rootOptions) *cobra.Command {
	var paging model.Paging
	cmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Print a run with a page of its values and errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			var explorer usecase.ResultExplorer
			return app.Execute(cmd.Context(), opts.options(), func(ctx context.Context) error {
				doc, err := explorer.GetRun(ctx, runID, paging)
				if err != nil {
					return err
				}
				enc := yaml.NewEncoder(opts.out)
				enc.SetIndent(2)
				if err := enc.Encode(newRunView(doc)); err != nil {
					return err
				}
				return enc.Close()
			}, &explorer)
		},
	}
	cmd.Flags().IntVar(&paging.First, "first", 0, "index of the first value and error")
	cmd.Flags().IntVar(&paging.Size, "size", 20, "page size, 0 for all")
	return cmd
}

func newEndCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "end RUN_ID",
		Short: "Mark a run complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			var lifecycle usecase.RunLifecycle
			return app.Execute(cmd.Context(), opts.options(), func(ctx context.Context) error {
				if err := lifecycle.EndRun(ctx, runID); err != nil {
					return err
				}
				fmt.Fprintf(opts.out, "run %d complete\n", runID)
				return nil
			}, &lifecycle)
		},
	}
}

func newDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete RUN_ID",
		Short: "Delete a run and everything stored for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			var lifecycle usecase.RunLifecycle
			return app.Execute(cmd.Context(), opts.options(), func(ctx context.Context) error {
				if err := lifecycle.DeleteRun(ctx, runID); err != nil {
					return err
				}
				fmt.Fprintf(opts.out, "run %d deleted\n", runID)
				return nil
			}, &lifecycle)
		},
	}
}

func newExportCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export RUN_ID",
		Short: "Write the values of a run as parquet objects to the export storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			var exporter *export.ParquetExporter
			return app.Execute(cmd.Context(), opts.options(), func(ctx context.Context) error {
				result, err := exporter.ExportRun(ctx, runID)
				for _, object := range result.Objects {
					fmt.Fprintln(opts.out, object)
				}
				return err
			}, &exporter)
		},
	}
}
