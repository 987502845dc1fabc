// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport opens the byte streams behind each converter link: a
// local serial port, or a WebSocket serial bridge for bench setups.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/Thermoquad/billbridge/pkg/config"
)

// PasswordEnv holds the WebSocket password so it never appears in shell
// history
const PasswordEnv = "BILLBRIDGE_PASSWORD"

// ReadTimeout bounds each serial read so a pump notices cancellation
const ReadTimeout = 100 * time.Millisecond

// Connection is a duplex byte stream
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// WebSocketConnection carries raw link bytes in binary WebSocket messages
type WebSocketConnection struct {
	conn      *websocket.Conn
	buf       []byte
	bufOffset int
	closed    bool
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrConnectionClosed
	}

	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			return 0, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		w.buf = data
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// SerialMode converts the link's physical settings to a serial mode.
// Frames are always 8 data bits and 1 stop bit.
func SerialMode(phy config.PhyConfig) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: phy.Baud,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	switch phy.Parity {
	case config.ParityNone, "":
		mode.Parity = serial.NoParity
	case config.ParityEven:
		mode.Parity = serial.EvenParity
	case config.ParityOdd:
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("invalid parity %q", phy.Parity)
	}
	return mode, nil
}

// OpenSerial opens the link's serial port
func OpenSerial(link config.LinkConfig) (*SerialConnection, error) {
	mode, err := SerialMode(link.Phy)
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(link.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", link.Port, err)
	}
	if err := port.SetReadTimeout(ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("setting read timeout on %s: %w", link.Port, err)
	}
	return &SerialConnection{port: port}, nil
}

// OpenWebSocket opens a WebSocket connection with HTTP Basic auth
func OpenWebSocket(wsURL, username, password string, skipSSLVerify bool) (*WebSocketConnection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword reads the WebSocket password from the environment, or prompts
// for it without echo
func GetPassword() (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// not a terminal
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}
	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// Open opens the link's transport: the WebSocket bridge when a URL is set,
// otherwise the serial port. It also returns a description for logs.
func Open(link config.LinkConfig, skipSSLVerify bool, logger *slog.Logger) (Connection, string, error) {
	if link.Phy.Polarity == config.PolarityInverted {
		logger.Warn("inverted polarity needs an inverting level shifter; opening link unchanged", "role", link.Role)
	}

	if link.URL != "" {
		password := ""
		if link.Username != "" {
			var err error
			if password, err = GetPassword(); err != nil {
				return nil, "", err
			}
		}
		conn, err := OpenWebSocket(link.URL, link.Username, password, skipSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", link.URL), nil
	}

	if link.Port != "" {
		conn, err := OpenSerial(link)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud %s parity", link.Port, link.Phy.Baud, link.Phy.Parity), nil
	}

	return nil, "", errors.New("either port or url must be specified")
}

// Pump copies bytes from r into feed until ctx is cancelled or the stream
// ends. A closed stream is not an error.
func Pump(ctx context.Context, r io.Reader, feed func([]byte)) error {
	buf := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			feed(buf[:n])
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}
