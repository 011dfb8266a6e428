package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	setSensorKey   string
	setSensorValue string
)

var setSensorCmd = &cobra.Command{
	Use:   "set-sensor",
	Short: "Connect and write a controllable sensor's value",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := buildManager(*setSensorFlags, nil)
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

		value := parseSensorValueArg(setSensorValue)
		sensor, err := m.SetSensorValue(ctx, setSensorKey, value)
		if err != nil {
			return fmt.Errorf("set sensor %s: %w", setSensorKey, err)
		}
		fmt.Printf("%s = %v\n", sensor.Key, sensor.Value)
		return nil
	},
}

var setSensorFlags = registerConnectionFlags(setSensorCmd, true)

func init() {
	setSensorCmd.Flags().StringVar(&setSensorKey, "sensor", "", "sensor key to set (required)")
	setSensorCmd.Flags().StringVar(&setSensorValue, "value", "", "new value: true/false, a number, or text (required)")
	setSensorCmd.MarkFlagRequired("sensor")
	setSensorCmd.MarkFlagRequired("value")
}

// parseSensorValueArg interprets a command-line value the same permissive
// way the sensor kinds do: bool if it parses as one, else float64 if it
// parses as one, else the raw string.
func parseSensorValueArg(raw string) any {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
