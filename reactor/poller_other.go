//go:build !linux

// File: reactor/poller_other.go
// License: Apache-2.0

package reactor

import (
	"fmt"

	"github.com/wordrush/wsreactor/api"
)

// NewPoller is only implemented on Linux.
func NewPoller() (Poller, error) {
	return nil, fmt.Errorf("reactor: epoll: %w", api.ErrNotSupported)
}
