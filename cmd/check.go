package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cardwatch/internal/model"
	"github.com/sells-group/cardwatch/internal/report"
	"github.com/sells-group/cardwatch/internal/scheduler"
)

var (
	checkOutput string
	watchEvery  time.Duration
)

// -- check --

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Fetch current prices for the whole watchlist and report changes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := newEngine(st, initCatalog()).Run(ctx)
		if err != nil {
			return eris.Wrap(err, "check")
		}
		return writeResult(cmd.OutOrStdout(), res, checkOutput)
	},
}

func writeResult(w io.Writer, res *model.ReconciliationResult, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(res), "encode json")
	case "text", "":
		fmt.Fprintln(w, report.Format(res, res.CheckpointBefore))
		if len(res.Unavailable) > 0 {
			fmt.Fprintf(w, "Could not reach Scryfall for %d card(s); they keep their previous price.\n", len(res.Unavailable))
		}
		return nil
	default:
		return eris.Errorf("unknown output format %q (want text or json)", format)
	}
}

// -- watch --

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run price checks periodically until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		every := watchEvery
		if every <= 0 {
			every = cfg.Check.Interval()
		}

		out := cmd.OutOrStdout()
		sched := scheduler.New(newEngine(st, initCatalog()), every, func(res *model.ReconciliationResult) {
			if err := writeResult(out, res, "text"); err != nil {
				zap.L().Warn("watch: write report", zap.Error(err))
			}
		})
		sched.Run(ctx)
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVarP(&checkOutput, "output", "o", "text", "output format: text or json")
	watchCmd.Flags().DurationVar(&watchEvery, "every", 0, "interval between checks (default from config)")
	rootCmd.AddCommand(checkCmd, watchCmd)
}
