package main

import (
	"encoding/json"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/safespace/saferoute/internal/model"
	"github.com/safespace/saferoute/internal/optimizer"
)

var optimizeFlags struct {
	from, to       string
	mainRoads      bool
	wellLit        bool
	populated      bool
	safetyWeight   float64
	distanceWeight float64
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Rank safe routes between two points and print the result as JSON",
	Example: `  saferoute optimize --from 12.9716,77.5946 --to 12.9352,77.6245 --well-lit`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		start, err := parsePoint(optimizeFlags.from)
		if err != nil {
			return eris.Wrap(err, "--from")
		}
		end, err := parsePoint(optimizeFlags.to)
		if err != nil {
			return eris.Wrap(err, "--to")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		resp, err := env.Optimizer.Optimize(ctx, optimizer.Request{
			Start: start,
			End:   end,
			Preferences: model.Preferences{
				PreferMainRoads: optimizeFlags.mainRoads,
				PreferWellLit:   optimizeFlags.wellLit,
				PreferPopulated: optimizeFlags.populated,
				SafetyWeight:    optimizeFlags.safetyWeight,
				DistanceWeight:  optimizeFlags.distanceWeight,
			},
		})
		if err != nil {
			return eris.Wrap(err, "optimize")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

// parsePoint reads "lat,lon".
func parsePoint(s string) (model.GeoPoint, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return model.GeoPoint{}, eris.Errorf("expected lat,lon, got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return model.GeoPoint{}, eris.Wrapf(err, "parse latitude %q", parts[0])
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return model.GeoPoint{}, eris.Wrapf(err, "parse longitude %q", parts[1])
	}
	return model.GeoPoint{Lat: lat, Lon: lon}, nil
}

func init() {
	f := optimizeCmd.Flags()
	f.StringVar(&optimizeFlags.from, "from", "", "start point as lat,lon (required)")
	f.StringVar(&optimizeFlags.to, "to", "", "end point as lat,lon (required)")
	f.BoolVar(&optimizeFlags.mainRoads, "main-roads", false, "prefer main roads")
	f.BoolVar(&optimizeFlags.wellLit, "well-lit", false, "prefer well-lit streets")
	f.BoolVar(&optimizeFlags.populated, "populated", false, "prefer populated areas")
	f.Float64Var(&optimizeFlags.safetyWeight, "safety-weight", model.DefaultSafetyWeight, "weight of the safety score")
	f.Float64Var(&optimizeFlags.distanceWeight, "distance-weight", model.DefaultDistanceWeight, "weight of the distance penalty")
	_ = optimizeCmd.MarkFlagRequired("from")
	_ = optimizeCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(optimizeCmd)
}
