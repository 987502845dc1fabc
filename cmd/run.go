// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	bp "github.com/Thermoquad/billbridge/pkg/billproto"
	"github.com/Thermoquad/billbridge/pkg/bridge"
	"github.com/Thermoquad/billbridge/pkg/config"
	"github.com/Thermoquad/billbridge/pkg/events"
	"github.com/Thermoquad/billbridge/pkg/logging"
	"github.com/Thermoquad/billbridge/pkg/transport"
)

var (
	runTUI       bool
	runStorePath string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the protocol converter",
	Long: `Open both links and convert between the CCNET host and the validator
until interrupted.

With --store, interface settings saved by 'config save' replace the ones from
the config file. A corrupt or foreign blob is ignored with a warning.

Edits to the config file are picked up while running: the downstream poll
period and the log level change immediately, everything else on restart.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the live dashboard instead of log output")
	runCmd.Flags().StringVar(&runStorePath, "store", "", "Config store to load interface settings from (default store.path)")
}

// openedLink is a link together with the connection behind it
type openedLink struct {
	conn transport.Connection
	link *bridge.Link
	desc string
}

// openLink opens the transport for one side and wraps it in a bridge link.
// rx is the direction frames arriving on this link travel in.
func openLink(lc config.LinkConfig, rx bp.Direction, logger *slog.Logger) (*openedLink, error) {
	p, err := bp.ParseProtocol(lc.Protocol)
	if err != nil {
		return nil, err
	}
	framing, err := lc.Framing()
	if err != nil {
		return nil, err
	}
	asm, err := bp.NewAssembler(framing, bp.SystemClock)
	if err != nil {
		return nil, err
	}
	conn, desc, err := transport.Open(lc, wsNoSSLVerify, logger)
	if err != nil {
		return nil, fmt.Errorf("%s link: %w", lc.Role, err)
	}
	return &openedLink{
		conn: conn,
		link: bridge.NewLink(lc.Role, p, rx, asm, conn, logger),
		desc: desc,
	}, nil
}

// applyStore overrides the interface settings with the stored ones
func applyStore(v *viper.Viper, path string, logger *slog.Logger) error {
	store, err := config.OpenStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	up, down, err := store.LoadInterfaces()
	switch {
	case errors.Is(err, config.ErrNotFound):
		logger.Info("no stored interface settings, using config file", "store", path)
		return nil
	case errors.Is(err, config.ErrCorruptBlob):
		logger.Warn("stored interface settings unusable, using config file", "store", path, "error", err)
		return nil
	case err != nil:
		return err
	}
	up.Override(v, config.RoleUpstream)
	down.Override(v, config.RoleDownstream)
	logger.Info("loaded interface settings from store", "store", path)
	return nil
}

// newPublisher connects to Redis when configured. A Redis that cannot be
// reached is logged and the converter runs without events.
func newPublisher(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) events.Publisher {
	if cfg.Address == "" {
		return events.Nop{}
	}
	r, err := events.NewRedis(ctx, events.RedisOptions{
		Address:   cfg.Address,
		Password:  cfg.Password,
		DB:        cfg.DB,
		Channel:   cfg.Channel,
		StatusKey: cfg.StatusKey,
	})
	if err != nil {
		logger.Warn("redis unavailable, running without events", "address", cfg.Address, "error", err)
		return events.Nop{}
	}
	logger.Info("publishing events", "address", cfg.Address, "channel", cfg.Channel)
	return events.NewAsync(r, 64, logger)
}

func bridgeOptions(cfg *config.Config) bridge.Options {
	opts := bridge.DefaultOptions()
	opts.PollPeriod = cfg.Downstream.Datalink.PollPeriod
	opts.StatusTTL = cfg.Timing.StatusTTL
	opts.StartupTimeout = cfg.Timing.StartupTimeout
	opts.ResponseTimeout = cfg.Timing.ResponseTimeout
	opts.BillTableTimeout = cfg.Timing.BillTableTimeout
	opts.Retries = cfg.Timing.Retries
	opts.StatsInterval = cfg.Timing.StatsInterval
	opts.Currency = cfg.Currency
	return opts
}

func runRun(cmd *cobra.Command, args []string) error {
	v, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var (
		ring   *logging.Ring
		logOut io.Writer = os.Stderr
	)
	if runTUI {
		ring = logging.NewRing(200)
		logOut = ring
	}
	logger, level, err := newLogger(logOut, cfg.Log.Level)
	if err != nil {
		return err
	}

	storePath := runStorePath
	if storePath == "" {
		storePath = cfg.Store.Path
	}
	if storePath != "" {
		if err := applyStore(v, storePath, logger); err != nil {
			return err
		}
		if cfg, err = config.Load(v); err != nil {
			return fmt.Errorf("stored interface settings: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	up, err := openLink(cfg.Upstream, bp.Transmit, logger)
	if err != nil {
		return err
	}
	defer up.conn.Close()
	down, err := openLink(cfg.Downstream, bp.Receive, logger)
	if err != nil {
		return err
	}
	defer down.conn.Close()
	logger.Info("links open", "upstream", up.desc, "downstream", down.desc)

	pub := newPublisher(ctx, cfg.Redis, logger)
	defer pub.Close()

	b, err := bridge.New(up.link, down.link, bridgeOptions(cfg), bp.SystemClock, pub, logger)
	if err != nil {
		return err
	}

	live := config.NewLive(cfg)
	config.Watch(v, live, logger, func(old, updated *config.Config) {
		if updated.Downstream.Datalink.PollPeriod != old.Downstream.Datalink.PollPeriod {
			b.SetPollPeriod(updated.Downstream.Datalink.PollPeriod)
			logger.Info("poll period changed", "poll_period", updated.Downstream.Datalink.PollPeriod)
		}
		if l, err := logging.ParseLevel(updated.Log.Level); err == nil {
			level.Set(l)
		}
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, l := range []*openedLink{up, down} {
		l := l
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := transport.Pump(ctx, l.conn, l.link.Assembler().FeedBytes); err != nil && ctx.Err() == nil {
				logger.Error("link failed", "link", l.link.Name(), "error", err)
			}
			cancel()
		}()
	}

	if runTUI {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Run(ctx)
		}()
		p := tea.NewProgram(newDashboard(b, ring, up.desc, down.desc), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			cancel()
			return err
		}
		cancel()
	} else {
		b.Run(ctx)
	}

	// unblock the pumps
	up.conn.Close()
	down.conn.Close()
	wg.Wait()
	logger.Info("final statistics", "upstream", up.link.Stats().String(), "downstream", down.link.Stats().String())
	return nil
}
