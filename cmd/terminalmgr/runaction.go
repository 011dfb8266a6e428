package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	runActionKey  string
	runActionVars []string
)

var runActionCmd = &cobra.Command{
	Use:   "run-action",
	Short: "Connect and run a single action command",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := buildManager(*runActionFlags, nil)
		if err != nil {
			return err
		}
		defer m.Close()

		vars := make(map[string]string, len(runActionVars))
		for _, kv := range runActionVars {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("invalid --var %q, expected key=value", kv)
			}
			vars[k] = v
		}

		ctx := context.Background()
		if err := m.Ping(ctx); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		if err := m.Connect(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}

		out, err := m.RunAction(ctx, runActionKey, vars)
		if err != nil {
			return fmt.Errorf("run action %s: %w", runActionKey, err)
		}
		for _, line := range out.Stdout {
			fmt.Println(line)
		}
		return nil
	},
}

var runActionFlags = registerConnectionFlags(runActionCmd, true)

func init() {
	runActionCmd.Flags().StringVar(&runActionKey, "action", "", "action command key to run (required)")
	runActionCmd.Flags().StringArrayVar(&runActionVars, "var", nil, "template variable as key=value, may be repeated")
	runActionCmd.MarkFlagRequired("action")
}
