// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package billproto

import (
	"errors"
	"fmt"
)

// Result classifies the outcome of parsing a frame
type Result int

const (
	NoMessage Result = iota
	Ok
	UnknownOpcode
	DataMissingForOpcode
	CrcInvalid
	InvalidLength
	InvalidHeader
	ParseError
)

func (r Result) String() string {
	switch r {
	case NoMessage:
		return "NO_MESSAGE"
	case Ok:
		return "OK"
	case UnknownOpcode:
		return "UNKNOWN_OPCODE"
	case DataMissingForOpcode:
		return "DATA_MISSING_FOR_OPCODE"
	case CrcInvalid:
		return "CRC_INVALID"
	case InvalidLength:
		return "INVALID_LENGTH"
	case InvalidHeader:
		return "INVALID_HEADER"
	case ParseError:
		return "PARSE_ERROR"
	default:
		return fmt.Sprintf("RESULT(%d)", int(r))
	}
}

// Error lets a Result be used as a sentinel with errors.Is
func (r Result) Error() string {
	return r.String()
}

// Retriable reports whether resending the outstanding request may help
func (r Result) Retriable() bool {
	return r == CrcInvalid || r == DataMissingForOpcode
}

// ParseFailure describes why a frame was rejected
type ParseFailure struct {
	Result  Result
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (f *ParseFailure) Error() string {
	return fmt.Sprintf("%s: %s", f.Result, f.Message)
}

// Unwrap exposes the Result so callers can match it with errors.Is
func (f *ParseFailure) Unwrap() error {
	return f.Result
}

func failure(r Result, details map[string]interface{}, format string, args ...interface{}) *ParseFailure {
	return &ParseFailure{Result: r, Message: fmt.Sprintf(format, args...), Details: details}
}

// Classify maps an error returned by Parse back to its Result
func Classify(err error) Result {
	if err == nil {
		return Ok
	}
	var r Result
	if errors.As(err, &r) {
		return r
	}
	return ParseError
}

// Errors returned by Construct
var (
	ErrUnknownProtocol = errors.New("billproto: unknown protocol")
	ErrPayloadTooLong  = errors.New("billproto: payload exceeds 250 bytes")
)
