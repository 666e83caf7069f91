package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/config"
	"github.com/sells-group/enrich-cli/internal/enrichment"
	"github.com/sells-group/enrich-cli/internal/export"
	"github.com/sells-group/enrich-cli/internal/journal"
	"github.com/sells-group/enrich-cli/internal/registry"
	"github.com/sells-group/enrich-cli/internal/store"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich <dashboard>",
	Short: "Run a dashboard's records through its analysis stages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts, err := enrichOptionsFromFlags(cmd)
		if err != nil {
			return err
		}
		if opts.BaseURL != "" {
			cfg.Pipeline.APIBaseURL = opts.BaseURL
		}
		if err := cfg.Validate("enrich"); err != nil {
			return err
		}

		var st store.Store
		if !opts.NoJournal {
			st, err = initStore(ctx)
			if err != nil {
				zap.L().Warn("run journal disabled", zap.Error(err))
				st = nil
			} else {
				defer st.Close() //nolint:errcheck
			}
		}

		return runEnrich(ctx, cfg, args[0], st, opts, os.Stdout, os.Stderr)
	},
}

// enrichOptions are the enrich command's output switches.
type enrichOptions struct {
	BaseURL    string
	StagesFile string
	JSON       bool
	XLSXPath   string
	Quiet      bool
	NoJournal  bool
}

func enrichOptionsFromFlags(cmd *cobra.Command) (enrichOptions, error) {
	var o enrichOptions
	var err error
	f := cmd.Flags()
	if o.BaseURL, err = f.GetString("base-url"); err != nil {
		return o, err
	}
	if o.StagesFile, err = f.GetString("stages-file"); err != nil {
		return o, err
	}
	if o.JSON, err = f.GetBool("json"); err != nil {
		return o, err
	}
	if o.XLSXPath, err = f.GetString("xlsx"); err != nil {
		return o, err
	}
	if o.Quiet, err = f.GetBool("quiet"); err != nil {
		return o, err
	}
	if o.NoJournal, err = f.GetBool("no-journal"); err != nil {
		return o, err
	}
	return o, nil
}

// runEnrich runs one dashboard and renders the final snapshot. A nil store
// disables the run journal.
func runEnrich(ctx context.Context, c *config.Config, name string, st store.Store, opts enrichOptions, stdout, stderr io.Writer) error {
	stagesFile := c.Pipeline.StagesFile
	if opts.StagesFile != "" {
		stagesFile = opts.StagesFile
	}
	reg, err := registry.LoadFile(stagesFile)
	if err != nil {
		return err
	}
	d := reg.ByName(name)
	if d == nil {
		return eris.Errorf("unknown dashboard %q (available: %s)", name, strings.Join(reg.Names(), ", "))
	}

	baseURL := c.Pipeline.APIBaseURL
	fetcher := enrichment.NewHTTPFetcher(enrichment.WithTimeout(c.Pipeline.RequestTimeout))
	policy := enrichment.NewRetryPolicy(
		enrichment.NewInvoker(fetcher, baseURL),
		enrichment.NewClassifier(c.Pipeline.QuotaMarker),
		c.Pipeline.RetryBackoff,
	)
	specs := d.StageSpecs()
	p := enrichment.New(specs, policy, d.Options())

	observers := []enrichment.Observer{}
	if !opts.Quiet {
		observers = append(observers, newProgressPrinter(stderr))
	}
	var jr *journal.Observer
	if st != nil {
		jr = journal.New(ctx, st, d.Name, len(specs))
		observers = append(observers, jr)
	}

	log := zap.L().With(zap.String("dashboard", d.Name), zap.String("api", baseURL))
	log.Info("enrichment started", zap.Int("stages", len(specs)))

	final, runErr := p.Enrich(ctx, d.Source(fetcher, baseURL), enrichment.Observers(observers...))
	if jr != nil {
		jr.Finish(runErr)
	}

	var fe *enrichment.FetchError
	if errors.As(runErr, &fe) {
		log.Error("record fetch failed", zap.Error(runErr))
		return runErr
	}
	if runErr != nil {
		log.Warn("enrichment interrupted", zap.Error(runErr))
	}

	counts := final.Counts()
	log.Info("enrichment finished",
		zap.Int("records", len(final.Records)),
		zap.Int("succeeded", counts[enrichment.StatusSucceeded]),
		zap.Int("failed", counts[enrichment.StatusFailed]),
		zap.Int("pending", counts[enrichment.StatusPending]),
	)

	if err := renderFinal(stdout, final, specs, opts.JSON); err != nil {
		return err
	}
	if opts.XLSXPath != "" {
		if err := export.WriteXLSX(final, opts.XLSXPath); err != nil {
			return err
		}
		fmt.Fprintf(stderr, "wrote %s\n", opts.XLSXPath)
	}
	if jr != nil && jr.RunID() != "" {
		fmt.Fprintf(stderr, "run %s\n", jr.RunID())
	}
	return runErr
}

func renderFinal(w io.Writer, final enrichment.Snapshot, specs []enrichment.StageSpec, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(final)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Record", "Stage", "Status", "Attempts", "Result"})
	table.SetAutoWrapText(false)
	for _, row := range export.OutcomeRows(final) {
		result := row[6]
		if row[2] == enrichment.StatusFailed.String() {
			result = row[3] + ": " + row[4]
		}
		table.Append([]string{row[0], row[1], row[2], row[5], truncate(result, 80)})
	}
	table.Render()

	for _, s := range specs {
		if s.ResultType != registry.ResultSentiment {
			continue
		}
		d := export.SentimentDistribution(final, s.Name)
		fmt.Fprintf(w, "%s: positive=%d neutral=%d negative=%d unanalyzed=%d\n",
			s.Name, d.Positive, d.Neutral, d.Negative, d.Unanalyzed)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// progressPrinter writes one line per (record, stage) status change.
type progressPrinter struct {
	w    io.Writer
	last map[[2]string]enrichment.Status
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, last: make(map[[2]string]enrichment.Status)}
}

func (p *progressPrinter) Emit(s enrichment.Snapshot) {
	for _, rec := range s.Records {
		for _, st := range rec.Stages {
			key := [2]string{rec.Record.ID, st.Name}
			prev, seen := p.last[key]
			out := st.Outcome
			if seen && prev == out.Status {
				continue
			}
			p.last[key] = out.Status
			if !seen && out.Status == enrichment.StatusPending {
				continue
			}
			switch out.Status {
			case enrichment.StatusFailed:
				fmt.Fprintf(p.w, "[%d] %s %s: failed (%s, attempts=%d) %s\n", s.Seq, rec.Record.ID, st.Name, out.Kind, out.Attempts, out.Message)
			case enrichment.StatusSucceeded:
				fmt.Fprintf(p.w, "[%d] %s %s: succeeded (attempts=%d)\n", s.Seq, rec.Record.ID, st.Name, out.Attempts)
			default:
				fmt.Fprintf(p.w, "[%d] %s %s: %s\n", s.Seq, rec.Record.ID, st.Name, out.Status)
			}
		}
	}
}

func init() {
	f := enrichCmd.Flags()
	f.String("base-url", "", "analysis API base URL (default from config)")
	f.String("stages-file", "", "stage registry YAML (default built-in)")
	f.Bool("json", false, "print the final snapshot as JSON")
	f.String("xlsx", "", "also write the final snapshot to this .xlsx file")
	f.Bool("quiet", false, "suppress per-stage progress lines")
	f.Bool("no-journal", false, "do not record the run in the journal")
	rootCmd.AddCommand(enrichCmd)
}
