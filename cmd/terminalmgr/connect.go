package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Ping and connect to a host, printing its resulting state",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := buildManager(*connFlags, nil)
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

		state := m.State()
		fmt.Printf("online=%v connected=%v request=%v error=%v\n", state.Online(), state.Connected(), state.Request_(), state.ErrorFlag())
		return nil
	},
}

var connFlags = registerConnectionFlags(connectCmd, true)
