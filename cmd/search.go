package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search Scryfall for cards",
	Long:  "Runs a Scryfall full-text query (e.g. \"t:dragon c:r\") and lists matching printings with their prices.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := initCatalog().Search(cmd.Context(), strings.Join(args, " "), searchLimit)
		if err != nil {
			return eris.Wrap(err, "search")
		}
		if len(items) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No cards found.")
			return nil
		}
		formatSearch(cmd.OutOrStdout(), items)
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "max results")
	rootCmd.AddCommand(searchCmd)
}
