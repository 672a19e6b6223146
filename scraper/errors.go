package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrUnknownAdapter is returned when a shop name has no registered constructor.
var ErrUnknownAdapter = errors.New("scraper: unknown adapter")

// ErrTimeout indicates a navigation or selector wait exceeded its deadline.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrBlocked indicates the target site served an anti-bot interstitial.
type ErrBlocked struct {
	Err error
}

func (e ErrBlocked) Error() string {
	return fmt.Errorf("blocked: %w", e.Err).Error()
}

func (e ErrBlocked) Unwrap() error {
	return e.Err
}

func classifyFault(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}
	return err
}

func faultLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var blocked ErrBlocked
	if errors.As(err, &blocked) {
		return "blocked"
	}
	return "other"
}
