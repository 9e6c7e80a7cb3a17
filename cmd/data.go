package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/safespace/saferoute/internal/fetcher"
	"github.com/safespace/saferoute/internal/riskindex"
)

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Inspect and download the risk datasets",
}

var dataStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how each risk layer loads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, stats, err := riskindex.Load(cmd.Context(), datasetFiles())
		if err != nil {
			return eris.Wrap(err, "data status")
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LAYER\tROWS\tSKIPPED\tSTATUS\tPATH")
		for _, s := range stats {
			status := "ok"
			switch {
			case s.Missing:
				status = "missing"
			case s.Error != "":
				status = "error: " + s.Error
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", s.Layer, s.Rows, s.Skipped, status, s.Path)
		}
		return w.Flush()
	},
}

var dataFetchFlags struct {
	manifest string
	dir      string
	rps      float64
}

var dataFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the risk layers listed in a dataset manifest",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		path := dataFetchFlags.manifest
		if path == "" {
			path = cfg.Datasets.Manifest
		}
		dir := dataFetchFlags.dir
		if dir == "" {
			dir = cfg.Datasets.Dir
		}

		m, err := fetcher.LoadManifest(path)
		if err != nil {
			return err
		}

		f := &fetcher.Mux{
			HTTP: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
				UserAgent:  cfg.Nominatim.UserAgent,
				RatePerSec: dataFetchFlags.rps,
			}),
			FTP: fetcher.NewFTPFetcher(fetcher.FTPOptions{}),
		}

		start := time.Now()
		results, err := fetcher.Sync(ctx, f, m, dir)
		if err != nil {
			return eris.Wrap(err, "data fetch")
		}
		for _, r := range results {
			zap.L().Info("dataset downloaded",
				zap.String("layer", string(r.Layer)),
				zap.String("path", filepath.Clean(r.Path)),
				zap.Int64("bytes", r.Bytes),
				zap.Duration("elapsed", r.Duration),
			)
		}
		zap.L().Info("data fetch complete",
			zap.Int("datasets", len(results)),
			zap.Duration("elapsed", time.Since(start)),
		)
		return nil
	},
}

func init() {
	dataFetchCmd.Flags().StringVar(&dataFetchFlags.manifest, "manifest", "", "dataset manifest (default from config)")
	dataFetchCmd.Flags().StringVar(&dataFetchFlags.dir, "dir", "", "destination directory (default from config)")
	dataFetchCmd.Flags().Float64Var(&dataFetchFlags.rps, "rps", 2, "HTTP requests per second")
	dataCmd.AddCommand(dataStatusCmd, dataFetchCmd)
	rootCmd.AddCommand(dataCmd)
}
