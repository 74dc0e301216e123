package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/cardwatch/internal/model"
	"github.com/sells-group/cardwatch/internal/reconcile"
	"github.com/sells-group/cardwatch/internal/store"
)

var importNoPrice bool

// importFile is the YAML watchlist format:
//
//	cards:
//	  - Lightning Bolt
//	  - name: Sol Ring
//	    id: 4cbc6901-6a4a-4d0a-83ea-7eefa3b35021
type importFile struct {
	Cards []importCard `yaml:"cards"`
}

type importCard struct {
	Name string `yaml:"name"`
	ID   string `yaml:"id"`
}

// UnmarshalYAML accepts either a bare card name or a mapping.
func (c *importCard) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		c.Name = node.Value
		return nil
	}
	type plain importCard
	return node.Decode((*plain)(c))
}

type importStats struct {
	Added    int
	Existing int
	NotFound int
	Failed   int
}

func readImportFile(path string) ([]importCard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read import file")
	}
	var f importFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "parse import file")
	}
	for i, c := range f.Cards {
		if c.Name == "" && c.ID == "" {
			return nil, eris.Errorf("import file: card %d has neither name nor id", i+1)
		}
	}
	return f.Cards, nil
}

// importCards adds every card. With resolve set, each card is looked up
// first (in one batch when the catalog supports it) so the watchlist gets
// canonical names and an opening price.
func importCards(ctx context.Context, st store.Store, catalog reconcile.Catalog, cards []importCard, resolve bool) (importStats, error) {
	var stats importStats

	keys := make([]model.ItemKey, len(cards))
	for i, c := range cards {
		keys[i] = model.ItemKey{Name: c.Name, ExternalID: c.ID}
	}

	var lookups []model.Lookup
	if resolve {
		if bc, ok := catalog.(reconcile.BatchCatalog); ok {
			lookups = bc.FetchMany(ctx, keys)
		} else {
			lookups = make([]model.Lookup, len(keys))
			for i, k := range keys {
				lookups[i] = catalog.FetchOne(ctx, k)
			}
		}
	}

	for i, k := range keys {
		entry := model.NewEntry{Name: k.Name, ExternalID: k.ExternalID}
		if resolve {
			lk := lookups[i]
			switch lk.Status {
			case model.LookupNotFound:
				stats.NotFound++
				zap.L().Warn("import: card not found", zap.String("name", k.Name), zap.String("id", k.ExternalID))
				continue
			case model.LookupUnavailable:
				stats.Failed++
				zap.L().Warn("import: lookup failed", zap.String("name", k.Name), zap.Error(lk.Err))
				continue
			}
			entry = entryFromRecord(lk.Item)
		}
		if entry.Name == "" {
			stats.Failed++
			continue
		}

		res, err := st.Add(ctx, entry)
		if err != nil {
			return stats, eris.Wrapf(err, "import %q", entry.Name)
		}
		if res == store.AddResultAlreadyExists {
			stats.Existing++
			continue
		}
		stats.Added++
	}
	return stats, nil
}

var importCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Add every card listed in a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cards, err := readImportFile(args[0])
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := importCards(ctx, st, initCatalog(), cards, !importNoPrice)
		if err != nil {
			return err
		}

		zap.L().Info("import complete",
			zap.Int("added", stats.Added),
			zap.Int("existing", stats.Existing),
			zap.Int("not_found", stats.NotFound),
			zap.Int("failed", stats.Failed),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d card(s): %d added, %d already tracked, %d not found, %d failed.\n",
			len(cards), stats.Added, stats.Existing, stats.NotFound, stats.Failed)
		return nil
	},
}

func init() {
	importCmd.Flags().BoolVar(&importNoPrice, "no-price", false, "add names as-is without looking up prices")
	rootCmd.AddCommand(importCmd)
}
