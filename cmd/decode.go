// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	bp "github.com/Thermoquad/billbridge/pkg/billproto"
	"github.com/Thermoquad/billbridge/pkg/mapper"
)

var decodeDirection string

var decodeCmd = &cobra.Command{
	Use:   "decode <hex>...",
	Short: "Decode captured frames",
	Long: `Parse each hex argument as one frame and print it.

Direction tx means controller to validator, rx validator to controller. With
--direction auto, tx is tried first. Validator statuses also show the CCNET
reply the converter would send for them.

Example:
  billbridge decode 02030633DA81 "FC 05 11 27 56"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().StringVarP(&decodeDirection, "direction", "d", "auto", "Frame direction: tx, rx or auto")
}

func parseDirections(s string) ([]bp.Direction, error) {
	switch strings.ToLower(s) {
	case "tx":
		return []bp.Direction{bp.Transmit}, nil
	case "rx":
		return []bp.Direction{bp.Receive}, nil
	case "auto", "":
		return []bp.Direction{bp.Transmit, bp.Receive}, nil
	default:
		return nil, fmt.Errorf("invalid direction %q (use tx, rx or auto)", s)
	}
}

// decodeFrame parses framed in the first direction that accepts it
func decodeFrame(framed []byte, dirs []bp.Direction) (*bp.Message, error) {
	var firstErr error
	for _, d := range dirs {
		msg, err := bp.Parse(framed, d)
		if err == nil {
			return msg, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func describe(msg *bp.Message) string {
	line := bp.FormatMessage(msg)
	if reply, ok := mapper.MapStatus(msg); ok {
		line += "  => " + bp.FormatMessage(reply)
	}
	return line
}

func runDecode(cmd *cobra.Command, args []string) error {
	dirs, err := parseDirections(decodeDirection)
	if err != nil {
		return err
	}

	failed := 0
	for _, arg := range args {
		framed, err := bp.ParseHex(arg)
		if err != nil {
			fmt.Printf("[ERROR] %s: %v\n", arg, err)
			failed++
			continue
		}
		msg, err := decodeFrame(framed, dirs)
		if err != nil {
			fmt.Println(bp.FormatFailure(framed, err))
			failed++
			continue
		}
		fmt.Println(describe(msg))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d frames did not decode", failed, len(args))
	}
	return nil
}
