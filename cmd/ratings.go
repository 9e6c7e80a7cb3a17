package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/safespace/saferoute/internal/store"
)

var ratingsFlags struct {
	routeID string
	limit   int
	offset  int
}

var ratingsCmd = &cobra.Command{
	Use:         "ratings",
	Short:       "List recent route ratings",
	Annotations: map[string]string{configModeKey: "store"},
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store.Options())
		if err != nil {
			return eris.Wrap(err, "ratings")
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "ratings: migrate")
		}

		out := cmd.OutOrStdout()
		if ratingsFlags.routeID != "" {
			fb, err := st.GetRouteFeedback(ctx, ratingsFlags.routeID)
			if err != nil {
				return eris.Wrap(err, "ratings: route feedback")
			}
			if fb == nil {
				fmt.Fprintf(out, "route %s has no ratings\n\n", ratingsFlags.routeID)
			} else {
				fmt.Fprintf(out, "route %s: %d ratings, avg %.2f, %d likes, last %s\n\n",
					fb.RouteID, fb.Ratings, fb.AvgRating, fb.Likes, fb.LastRatedAt.Format(time.RFC3339))
			}
		}

		ratings, err := st.ListRatings(ctx, store.RatingFilter{
			RouteID: ratingsFlags.routeID,
			Limit:   ratingsFlags.limit,
			Offset:  ratingsFlags.offset,
		})
		if err != nil {
			return eris.Wrap(err, "ratings: list")
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CREATED\tROUTE\tRATING\tLIKED\tFEEDBACK")
		for _, r := range ratings {
			fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n",
				r.CreatedAt.Format(time.RFC3339), r.RouteID, r.Rating, r.Liked, r.Feedback)
		}
		return w.Flush()
	},
}

func init() {
	ratingsCmd.Flags().StringVar(&ratingsFlags.routeID, "route", "", "only ratings for this route fingerprint")
	ratingsCmd.Flags().IntVar(&ratingsFlags.limit, "limit", 50, "maximum ratings to list")
	ratingsCmd.Flags().IntVar(&ratingsFlags.offset, "offset", 0, "ratings to skip")
	rootCmd.AddCommand(ratingsCmd)
}
