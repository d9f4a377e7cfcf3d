// File: server/options.go
// License: Apache-2.0
//
// Functional options for Server.

package server

import (
	"github.com/wordrush/wsreactor/control"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records connection and message metrics.
func WithMetrics(m *control.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithPool shares a WebSocket pool between servers. Upgraded connections
// join it and broadcasts reach them.
func WithPool(p *Pool) ServerOption {
	return func(s *Server) {
		if p != nil {
			s.pool = p
		}
	}
}

// WithRateLimit limits inbound WebSocket data frames per connection. Frames
// over the limit are dropped. A zero limit disables limiting.
func WithRateLimit(limit rate.Limit, burst int) ServerOption {
	return func(s *Server) {
		s.limit = limit
		s.burst = burst
	}
}

// WithDebugProbes registers connection table and worker statistics.
func WithDebugProbes(dp *control.DebugProbes) ServerOption {
	return func(s *Server) {
		s.probes = dp
	}
}
