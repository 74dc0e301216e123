package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cardwatch/internal/model"
	"github.com/sells-group/cardwatch/internal/reconcile"
	"github.com/sells-group/cardwatch/internal/report"
	"github.com/sells-group/cardwatch/internal/store"
)

var (
	addExternalID string
	addNoPrice    bool
	listOutput    string
)

// -- add --

var addCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a card to the watchlist",
	Long:  "Resolves the card on Scryfall (by exact name, or by --id) and records its current price as the first observation.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		key := model.ItemKey{Name: args[0], ExternalID: addExternalID}
		entry := model.NewEntry{Name: key.Name, ExternalID: key.ExternalID}
		if !addNoPrice {
			entry, err = resolveEntry(ctx, initCatalog(), key)
			if err != nil {
				return err
			}
		}

		res, err := st.Add(ctx, entry)
		if err != nil {
			return eris.Wrap(err, "add")
		}
		if res == store.AddResultAlreadyExists {
			return eris.Wrapf(store.ErrAlreadyExists, "add %q", entry.Name)
		}

		out := cmd.OutOrStdout()
		if entry.Price.Valid {
			fmt.Fprintf(out, "Added %s at %s [%s]\n", entry.Name,
				report.Money(entry.Price.Decimal, entry.PriceKind.Currency()), entry.PriceKind)
		} else {
			fmt.Fprintf(out, "Added %s (no price yet)\n", entry.Name)
		}
		return nil
	},
}

// resolveEntry looks the card up and builds the entry from the catalog's
// canonical name and price.
func resolveEntry(ctx context.Context, catalog reconcile.Catalog, key model.ItemKey) (model.NewEntry, error) {
	lk := catalog.FetchOne(ctx, key)
	switch lk.Status {
	case model.LookupNotFound:
		return model.NewEntry{}, eris.Errorf("card %q not found on Scryfall", key.Name)
	case model.LookupUnavailable:
		return model.NewEntry{}, eris.Wrapf(lk.Err, "look up %q", key.Name)
	}
	return entryFromRecord(lk.Item), nil
}

func entryFromRecord(item model.ItemRecord) model.NewEntry {
	return model.NewEntry{
		Name:       item.Name,
		ExternalID: item.ExternalID,
		Price:      item.Price,
		PriceKind:  item.PriceKind,
	}
}

// -- remove --

var removeCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a card from the watchlist (its price history is kept)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		removed, err := st.Remove(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "remove")
		}
		if !removed {
			return eris.Wrapf(store.ErrNotFound, "remove %q", args[0])
		}

		zap.L().Debug("removed watchlist entry", zap.String("name", args[0]))
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
		return nil
	},
}

// -- list --

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Show the watchlist",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.List(ctx)
		if err != nil {
			return eris.Wrap(err, "list")
		}
		if len(entries) == 0 && (listOutput == "table" || listOutput == "") {
			fmt.Fprintln(cmd.ErrOrStderr(), "Watchlist is empty.")
			return nil
		}
		return writeEntries(cmd.OutOrStdout(), entries, listOutput, time.Now())
	},
}

func init() {
	addCmd.Flags().StringVar(&addExternalID, "id", "", "Scryfall card id (pins a specific printing)")
	addCmd.Flags().BoolVar(&addNoPrice, "no-price", false, "add without looking up a price")
	listCmd.Flags().StringVarP(&listOutput, "output", "o", "table", "output format: table, json or yaml")

	rootCmd.AddCommand(addCmd, removeCmd, listCmd)
}
