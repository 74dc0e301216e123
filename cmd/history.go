package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/cardwatch/internal/store"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <name>",
	Short: "Show recorded prices for a card, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		obs, err := st.HistoryFor(ctx, args[0], historyLimit)
		if err != nil {
			return eris.Wrap(err, "history")
		}
		if len(obs) == 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "No price history for %s.\n", args[0])
			return nil
		}

		formatHistory(cmd.OutOrStdout(), obs)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", store.DefaultHistoryLimit, "max observations to show")
	rootCmd.AddCommand(historyCmd)
}
