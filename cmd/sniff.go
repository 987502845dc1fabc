// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	bp "github.com/Thermoquad/billbridge/pkg/billproto"
	"github.com/Thermoquad/billbridge/pkg/config"
	"github.com/Thermoquad/billbridge/pkg/transport"
)

var (
	sniffLink      string
	sniffDirection string
)

var sniffCmd = &cobra.Command{
	Use:   "sniff",
	Short: "Display frames received on one link",
	Long: `Open one link from the configuration and print every frame as it
arrives. Nothing is transmitted, so this can run on a tapped line while the
host and validator talk directly.

The upstream link carries host commands (tx) and the downstream link
validator replies (rx); --direction overrides that.`,
	RunE: runSniff,
}

func init() {
	rootCmd.AddCommand(sniffCmd)
	sniffCmd.Flags().StringVarP(&sniffLink, "link", "l", "downstream", "Link to open: upstream or downstream")
	sniffCmd.Flags().StringVarP(&sniffDirection, "direction", "d", "", "Frame direction: tx or rx (default by link)")
}

func runSniff(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, _, err := newLogger(os.Stderr, cfg.Log.Level)
	if err != nil {
		return err
	}
	lc, err := linkConfig(cfg, sniffLink)
	if err != nil {
		return err
	}

	dir := bp.Receive
	if sniffLink == config.RoleUpstream {
		dir = bp.Transmit
	}
	if sniffDirection != "" {
		dirs, err := parseDirections(sniffDirection)
		if err != nil || len(dirs) != 1 {
			return fmt.Errorf("invalid direction %q (use tx or rx)", sniffDirection)
		}
		dir = dirs[0]
	}

	l, err := openLink(lc, dir, logger)
	if err != nil {
		return err
	}
	defer l.conn.Close()

	fmt.Printf("Billbridge - Frame Log\n")
	fmt.Printf("Link: %s (%s, %s)\n", lc.Role, l.link.Protocol(), dir)
	fmt.Printf("Connection: %s\n", l.desc)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pumpErr := make(chan error, 1)
	go func() {
		pumpErr <- transport.Pump(ctx, l.conn, l.link.Assembler().FeedBytes)
	}()

	asm := l.link.Assembler()
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("\n%s\n", l.link.Stats().String())
			return nil
		case err := <-pumpErr:
			fmt.Printf("\n%s\n", l.link.Stats().String())
			if err != nil {
				return err
			}
			fmt.Println("Connection closed")
			return nil
		case <-asm.Notify():
			for {
				framed, ok := asm.Take()
				if !ok {
					break
				}
				msg, err := bp.Parse(framed, dir)
				l.link.Stats().Update(err)
				if err != nil {
					fmt.Printf("[ERROR] %s\n", bp.FormatFailure(framed, err))
					continue
				}
				fmt.Println(describe(msg))
			}
		}
	}
}
