package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var pollSensorKey string

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Connect and poll a single sensor, printing its value",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := buildManager(*pollFlags, nil)
		if err != nil {
			return err
		}
		defer m.Close()

		ctx := context.Background()
		if err := m.Ping(ctx); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		if err := m.Connect(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}

		sensor, err := m.PollSensor(ctx, pollSensorKey)
		if err != nil {
			return fmt.Errorf("poll %s: %w", pollSensorKey, err)
		}
		fmt.Printf("%s = %v\n", sensor.Key, sensor.Value)
		return nil
	},
}

var pollFlags = registerConnectionFlags(pollCmd, true)

func init() {
	pollCmd.Flags().StringVar(&pollSensorKey, "sensor", "", "sensor key to poll (required)")
	pollCmd.MarkFlagRequired("sensor")
}
