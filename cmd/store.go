package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/safespace/saferoute/internal/model"
	"github.com/safespace/saferoute/internal/store"
)

// importPageSize bounds how many ratings are read from SQLite per query.
const importPageSize = 1000

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the ratings database",
}

var storeMigrateCmd = &cobra.Command{
	Use:         "migrate",
	Short:       "Create or update the ratings schema",
	Annotations: map[string]string{configModeKey: "store"},
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store.Options())
		if err != nil {
			return eris.Wrap(err, "store migrate")
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "store migrate")
		}

		zap.L().Info("store schema up to date", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

var storeImportFrom string

var storeImportCmd = &cobra.Command{
	Use:         "import",
	Short:       "Copy ratings from a SQLite database into the configured Postgres store",
	Annotations: map[string]string{configModeKey: "store"},
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cfg.Store.Driver != store.DriverPostgres {
			return eris.Errorf("store import: target driver must be postgres, got %q", cfg.Store.Driver)
		}

		src, err := store.NewSQLite(storeImportFrom)
		if err != nil {
			return eris.Wrap(err, "store import: open source")
		}
		defer src.Close() //nolint:errcheck

		var ratings []model.Rating
		for offset := 0; ; offset += importPageSize {
			page, err := src.ListRatings(ctx, store.RatingFilter{Limit: importPageSize, Offset: offset})
			if err != nil {
				return eris.Wrap(err, "store import: read source")
			}
			ratings = append(ratings, page...)
			if len(page) < importPageSize {
				break
			}
		}

		opts := cfg.Store.Options()
		dst, err := store.NewPostgres(ctx, opts.DatabaseURL, &opts.Pool)
		if err != nil {
			return eris.Wrap(err, "store import: open target")
		}
		defer dst.Close() //nolint:errcheck

		if err := dst.Migrate(ctx); err != nil {
			return eris.Wrap(err, "store import: migrate target")
		}
		imported, skipped, err := dst.ImportRatings(ctx, ratings)
		if err != nil {
			return eris.Wrap(err, "store import")
		}

		zap.L().Info("ratings imported",
			zap.String("from", storeImportFrom),
			zap.Int64("imported", imported),
			zap.Int("skipped", skipped),
		)
		return nil
	},
}

func init() {
	storeImportCmd.Flags().StringVar(&storeImportFrom, "from", "", "SQLite database to copy from (required)")
	_ = storeImportCmd.MarkFlagRequired("from")
	storeCmd.AddCommand(storeMigrateCmd, storeImportCmd)
	rootCmd.AddCommand(storeCmd)
}
