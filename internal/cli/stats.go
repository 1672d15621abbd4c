package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yagince/test-queue/internal/config"
	"github.com/yagince/test-queue/internal/stats"
)

// NewStatsCmd creates the stats command: print stored suite durations in
// queue order (longest first).
func NewStatsCmd(a *App) *cobra.Command {
	var statsPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print recorded suite durations in dispatch order",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := statsPath
			if !cmd.Flags().Changed("stats") {
				cfg, err := config.Load(a.configPath)
				if err != nil {
					return err
				}
				path = cfg.StatsFilePath
			}

			store, err := stats.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()

			times, err := store.Load()
			if err != nil {
				return err
			}
			if len(times) == 0 {
				fmt.Println("No recorded durations")
				return nil
			}

			for _, t := range times {
				fmt.Printf("%10.3fs  %s  (%s)\n", t.DurationSeconds, t.Name, t.Path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&statsPath, "stats", ".test_queue_stats", "Path to the suite duration store")

	return cmd
}
