package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/relayhost/terminalmgr/internal/config"
	"github.com/relayhost/terminalmgr/internal/logging"
	"github.com/relayhost/terminalmgr/internal/metrics"
)

var (
	watchInterval    time.Duration
	watchMetricsAddr string
	watchTail        bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll every host in the catalog on an interval, serving /metrics",
	Long:  "Runs until interrupted. Omit --host to watch every host in the catalog concurrently.",
	RunE: func(cmd *cobra.Command, args []string) error {
		m := metrics.New("dev")
		if err := m.Start(watchMetricsAddr); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			m.Shutdown(ctx)
		}()

		if watchTail {
			subID := uuid.NewString()
			lines, unsubscribe := logging.Broadcaster.Subscribe(subID)
			defer unsubscribe()
			go func() {
				for line := range lines {
					fmt.Print(line)
				}
			}()
		}

		hosts, err := loadHosts(*watchFlags)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			log.Info().Msg("watch loop stopping")
			cancel()
		}()

		g, gctx := errgroup.WithContext(ctx)
		for _, hc := range hosts {
			hc := hc
			g.Go(func() error {
				return watchHost(gctx, hc, *watchFlags, m)
			})
		}
		return g.Wait()
	},
}

var watchFlags = registerConnectionFlags(watchCmd, false)

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 15*time.Second, "poll loop tick interval")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "127.0.0.1:9144", "address to serve /metrics on")
	watchCmd.Flags().BoolVar(&watchTail, "tail", false, "also print live log lines to stdout")
}

func watchHost(ctx context.Context, hc config.HostCollection, f connectionFlags, m *metrics.Metrics) error {
	mgr, err := buildManagerForHost(hc, f, m)
	if err != nil {
		return fmt.Errorf("%s: %w", hc.Host.Name, err)
	}
	defer mgr.Close()

	if err := mgr.Ping(ctx); err != nil {
		log.Warn().Str("host", hc.Host.Name).Err(err).Msg("initial ping failed, continuing to poll")
	}

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	log.Info().Str("host", mgr.Name()).Dur("interval", watchInterval).Msg("watching host")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := mgr.Update(ctx, false, false, true); err != nil {
				log.Warn().Str("host", hc.Host.Name).Err(err).Msg("update failed")
			}
		}
	}
}
