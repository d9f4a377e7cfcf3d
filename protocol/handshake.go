// File: protocol/handshake.go
// License: Apache-2.0
//
// Server side of the WebSocket opening handshake.

package protocol

import (
	"crypto/sha1"
	"encoding/base64"
	"net/http"

	"github.com/wordrush/wsreactor/api"
)

const (
	WebSocketGUID            = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	HeaderConnection         = "Connection"
	HeaderUpgrade            = "Upgrade"
	HeaderSecWebSocketKey    = "Sec-WebSocket-Key"
	HeaderSecWebSocketVer    = "Sec-WebSocket-Version"
	HeaderSecWebSocketAccept = "Sec-WebSocket-Accept"
	RequiredWebSocketVersion = "13"
)

// ComputeAcceptToken derives Sec-WebSocket-Accept from the client key.
func ComputeAcceptToken(key string) string {
	sum := sha1.Sum([]byte(key + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// IsUpgradeRequest reports whether req asks for a WebSocket upgrade.
func IsUpgradeRequest(req *Request) bool {
	return req.Method == MethodGet && req.Headers.ContainsToken(HeaderUpgrade, "websocket")
}

// Handshake validates an upgrade request and builds the 101 response. A
// missing or wrong header yields an api.ErrHandshake naming it.
func Handshake(req *Request) (*Response, error) {
	if req.Method != MethodGet {
		return nil, api.Errorf(api.ErrCodeHandshake, "upgrade requires GET, got %s", req.RawMethod)
	}
	if !req.Headers.ContainsToken(HeaderUpgrade, "websocket") {
		return nil, api.Errorf(api.ErrCodeHandshake, "missing or invalid %s header", HeaderUpgrade).
			WithContext("header", HeaderUpgrade)
	}
	if !req.Headers.ContainsToken(HeaderConnection, "Upgrade") {
		return nil, api.Errorf(api.ErrCodeHandshake, "missing or invalid %s header", HeaderConnection).
			WithContext("header", HeaderConnection)
	}
	key := req.Headers.Get(HeaderSecWebSocketKey)
	if key == "" {
		return nil, api.Errorf(api.ErrCodeHandshake, "missing %s header", HeaderSecWebSocketKey).
			WithContext("header", HeaderSecWebSocketKey)
	}
	if v := req.Headers.Get(HeaderSecWebSocketVer); req.Headers.Has(HeaderSecWebSocketVer) && v != RequiredWebSocketVersion {
		return nil, api.Errorf(api.ErrCodeHandshake, "unsupported %s %q", HeaderSecWebSocketVer, v).
			WithContext("header", HeaderSecWebSocketVer)
	}

	resp := NewResponse(http.StatusSwitchingProtocols)
	resp.Headers.Add(HeaderUpgrade, "websocket")
	resp.Headers.Add(HeaderConnection, "Upgrade")
	resp.Headers.Add(HeaderSecWebSocketAccept, ComputeAcceptToken(key))
	return resp, nil
}
