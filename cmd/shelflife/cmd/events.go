package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/blockchaincyberpunk1/shelflife-frontend/internal/events"
)

var eventsCount int64

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent session and cache events from the Redis stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		if fileConfig.RedisAddr == "" {
			return errors.New("events need redisAddr in the config")
		}
		sink, err := events.NewRedisStreamSink(events.RedisStreamConfig{
			Addr:     fileConfig.RedisAddr,
			Password: fileConfig.RedisPassword,
			Stream:   fileConfig.EventQueue,
		})
		if err != nil {
			return err
		}
		defer sink.Close()
		recent, err := sink.Recent(cmd.Context(), eventsCount)
		if err != nil {
			return err
		}
		return printJSON(cmd, recent)
	},
}

func init() {
	eventsCmd.Flags().Int64VarP(&eventsCount, "count", "n", 20, "number of events")
	rootCmd.AddCommand(eventsCmd)
}
