// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Billbridge - Bill validator protocol converter
//
// Presents an ID003 or ccTalk bill validator to a CCNET host.

package main

import (
	"os"

	"github.com/Thermoquad/billbridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
