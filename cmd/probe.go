// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	bp "github.com/Thermoquad/billbridge/pkg/billproto"
	"github.com/Thermoquad/billbridge/pkg/mapper"
	"github.com/Thermoquad/billbridge/pkg/transport"
)

var probeTimeout int

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that the bill validator answers",
	Long: `Send status requests on the downstream link until the validator sends a
valid reply or the timeout expires. Corrupt and unrelated bytes are ignored.

Exit codes:
  0 - Validator replied before timeout
  1 - Timeout reached without a valid reply
  2 - Connection error

Run it with the converter stopped; both cannot own the port.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 10, "Timeout in seconds to wait for a reply")
}

func runProbe(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(2)
	}
	logger, _, err := newLogger(os.Stderr, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(2)
	}

	l, err := openLink(cfg.Downstream, bp.Receive, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer l.conn.Close()

	p := l.link.Protocol()
	tag, _ := mapper.CommandTag(p)
	opcode, ok := mapper.FindMapping(bp.ProtocolCCNET, p, bp.CCNETPoll, tag)
	if !ok {
		fmt.Fprintf(os.Stderr, "No status request for %s\n", p)
		os.Exit(2)
	}
	request, err := bp.Construct(p, bp.Transmit, opcode, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Building request: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Billbridge - Validator Probe\n")
	fmt.Printf("Connection: %s\n", l.desc)
	fmt.Printf("Protocol: %s\n", p)
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for a valid reply...\n\n")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(probeTimeout)*time.Second)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- transport.Pump(ctx, l.conn, l.link.Assembler().FeedBytes)
	}()

	resend := time.NewTicker(time.Second)
	defer resend.Stop()
	if err := l.link.Send(request); err != nil {
		fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
		os.Exit(2)
	}

	for {
		select {
		case <-l.link.Notify():
			for {
				msg, err := l.link.Receive()
				if errors.Is(err, bp.NoMessage) {
					break
				}
				// skip our own request read back from a single-wire bus; the
				// ID003 idle reply is byte-identical to the request and counts
				if err != nil || msg.SameFrame(request) && msg.Opcode() != bp.ID003StatusIdling {
					continue
				}
				fmt.Printf("SUCCESS: Received valid reply\n")
				fmt.Printf("  %s\n", describe(msg))
				fmt.Printf("  %s\n", l.link.Stats().String())
				os.Exit(0)
			}

		case <-resend.C:
			if err := l.link.Send(request); err != nil {
				fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
				os.Exit(2)
			}

		case err := <-errChan:
			if ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
				os.Exit(2)
			}
			errChan = nil

		case <-ctx.Done():
			fmt.Fprintf(os.Stderr, "TIMEOUT: No valid reply received within %d seconds\n", probeTimeout)
			os.Exit(1)
		}
	}
}
