// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	bp "github.com/Thermoquad/billbridge/pkg/billproto"
	"github.com/Thermoquad/billbridge/pkg/logging"
)

// Link is one serial connection: an Assembler fed by the transport's receive
// goroutine, a writer for transmission, and the link's statistics.
type Link struct {
	name      string
	protocol  bp.Protocol
	rx        bp.Direction
	assembler *bp.Assembler
	stats     *bp.Statistics
	logger    *slog.Logger

	wmu sync.Mutex
	w   io.Writer
}

// NewLink wires an assembler and a writer into a link. rx is the direction
// received frames are parsed in: Transmit on the upstream link, where the host
// sends commands, and Receive on the downstream link.
func NewLink(name string, protocol bp.Protocol, rx bp.Direction, assembler *bp.Assembler, w io.Writer, logger *slog.Logger) *Link {
	return &Link{
		name:      name,
		protocol:  protocol,
		rx:        rx,
		assembler: assembler,
		stats:     bp.NewStatistics(),
		logger:    logger.With("link", name),
		w:         w,
	}
}

// Name returns the link name used in logs
func (l *Link) Name() string {
	return l.name
}

// Protocol returns the protocol the link is configured for
func (l *Link) Protocol() bp.Protocol {
	return l.protocol
}

// Assembler returns the link's frame assembler
func (l *Link) Assembler() *bp.Assembler {
	return l.assembler
}

// Stats returns the link's statistics
func (l *Link) Stats() *bp.Statistics {
	return l.stats
}

// Notify signals after each completed received frame
func (l *Link) Notify() <-chan struct{} {
	return l.assembler.Notify()
}

// Send writes a complete frame to the link
func (l *Link) Send(msg *bp.Message) error {
	l.logger.Log(context.Background(), logging.LevelProto, "tx", "frame", bp.FormatHex(msg.Protocol(), msg.Framed()), "op", msg.Name())

	l.wmu.Lock()
	_, err := l.w.Write(msg.Framed())
	l.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("%s write: %w", l.name, err)
	}
	l.stats.RecordSent()
	return nil
}

// Receive takes and parses the pending frame. It returns bp.NoMessage when
// nothing is pending. A frame of another protocol than the link's is
// rejected as an invalid header.
func (l *Link) Receive() (*bp.Message, error) {
	framed, ok := l.assembler.Take()
	if !ok {
		return nil, bp.NoMessage
	}
	msg, err := bp.Parse(framed, l.rx)
	if err == nil && msg.Protocol() != l.protocol {
		err = fmt.Errorf("%w: %s frame on %s link", bp.InvalidHeader, msg.Protocol(), l.protocol)
	}
	l.stats.Update(err)
	if err != nil {
		l.logger.Warn("rx frame rejected", "error", err, "frame", bp.FormatHex(l.protocol, framed))
		return nil, err
	}
	l.logger.Log(context.Background(), logging.LevelProto, "rx", "frame", bp.FormatHex(msg.Protocol(), framed), "op", msg.Name())
	return msg, nil
}

// Reset drops any partially received or untaken frame
func (l *Link) Reset() {
	l.assembler.Reset()
}
