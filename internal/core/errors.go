// Package core defines the fundamental types and errors for the companion.
package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// Core errors that can occur across the system
var (
	// Connectivity errors
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrTimeout            = errors.New("operation timed out")

	// Module errors
	ErrModuleOffline    = errors.New("aura module unreachable")
	ErrModuleNotFound   = errors.New("no aura module discovered")
	ErrSessionClosed    = errors.New("module session closed")
	ErrScanInProgress   = errors.New("a network scan is already running")
	ErrNotConnected     = errors.New("module session not connected")
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

	// Agent errors
	ErrAIService       = errors.New("assistant service error")
	ErrModelDeprecated = errors.New("configured model is deprecated")
	ErrTurnInProgress  = errors.New("a message is already being processed")
	ErrEmptyResponse   = errors.New("empty model response")

	// Auth errors
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnauthorized     = errors.New("unauthorized")

	// Speech errors
	ErrSpeechUnavailable = errors.New("no speech engine available")
	ErrNotListening      = errors.New("recognition is not active")

	// Storage errors
	ErrSlotNotFound = errors.New("storage slot not found")
)

// Kind is the canonical failure classification every user-visible error
// path funnels through.
type Kind string

const (
	KindNetwork          Kind = "NETWORK_ERROR"
	KindModuleOffline    Kind = "AURA_OFFLINE"
	KindAIService        Kind = "AI_SERVICE_ERROR"
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	KindTimeout          Kind = "TIMEOUT"
	KindUnknown          Kind = "UNKNOWN"
)

// HTTPError carries a status code through error wrapping so classification
// can distinguish auth failures from transient server errors.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// ClassifyError maps any error onto the canonical failure taxonomy.
func ClassifyError(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrUnauthorized):
		return KindPermissionDenied
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrModuleOffline), errors.Is(err, ErrModuleNotFound), errors.Is(err, ErrNotConnected):
		return KindModuleOffline
	case errors.Is(err, ErrAIService), errors.Is(err, ErrModelDeprecated), errors.Is(err, ErrEmptyResponse):
		return KindAIService
	case errors.Is(err, ErrNetworkUnavailable):
		return KindNetwork
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 401 || httpErr.StatusCode == 403:
			return KindPermissionDenied
		case httpErr.StatusCode == 429 || httpErr.StatusCode >= 500:
			return KindAIService
		}
		return KindUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"),
		strings.Contains(msg, "network is unreachable"):
		return KindNetwork
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return KindTimeout
	}

	return KindUnknown
}

// Retryable reports whether a failure of this kind is worth retrying.
// Auth and configuration failures are terminal without reconfiguration.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindAIService:
		return true
	default:
		return false
	}
}
