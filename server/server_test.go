//go:build linux

// File: server/server_test.go
// License: Apache-2.0

package server_test

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gorilla/websocket"
	"github.com/wordrush/wsreactor/api"
	"github.com/wordrush/wsreactor/control"
	"github.com/wordrush/wsreactor/protocol"
	"github.com/wordrush/wsreactor/server"
	"golang.org/x/time/rate"
)

const bigBody = 4 << 20

// wsDialer buffers whole messages so gorilla never fragments them.
var wsDialer = websocket.Dialer{
	ReadBufferSize:   256 << 10,
	WriteBufferSize:  256 << 10,
	HandshakeTimeout: 5 * time.Second,
}

func echoHandler() server.Handler {
	return server.HandlerFuncs{
		HTTP: func(c *server.Conn, req *protocol.Request) *protocol.Response {
			switch req.Path {
			case "/health":
				return protocol.JSON(http.StatusOK, map[string]string{"status": "ok"})
			case "/big":
				return protocol.NewResponse(http.StatusOK).SetBody("text/plain", bytes.Repeat([]byte("x"), bigBody))
			case "/echo":
				return protocol.NewResponse(http.StatusOK).SetBody("text/plain", req.Body)
			}
			return nil
		},
		Message: func(c *server.Conn, f *protocol.Frame) (*protocol.Frame, error) {
			if string(f.Payload) == "fail" {
				return nil, errors.New("handler refused")
			}
			return &protocol.Frame{Fin: true, Opcode: f.Opcode, Payload: f.Payload}, nil
		},
	}
}

func startServer(t *testing.T, tweak func(*server.Config), opts ...server.ServerOption) *server.Server {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.Address = "127.0.0.1"
	cfg.Port = 0
	cfg.Workers = 4
	cfg.TickInterval = 50 * time.Millisecond
	if tweak != nil {
		tweak(cfg)
	}
	srv := server.New(cfg, echoHandler(), opts...)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Shutdown() })
	return srv
}

func addr(srv *server.Server) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(srv.Port()))
}

func dial(t *testing.T, srv *server.Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	c, err := net.Dial("tcp", addr(srv))
	if err != nil {
		t.Fatal(err)
	}
	c.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { c.Close() })
	return c, bufio.NewReader(c)
}

func get(path string) string {
	return "GET " + path + " HTTP/1.1\r\nHost: test\r\n\r\n"
}

func readResponse(t *testing.T, br *bufio.Reader) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func clientFrame(op protocol.Opcode, payload []byte) []byte {
	return (&protocol.Frame{
		Fin:     true,
		Opcode:  op,
		Masked:  true,
		MaskKey: [4]byte{0xa1, 0xb2, 0xc3, 0xd4},
		Payload: payload,
	}).Encode()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func expectEOF(t *testing.T, br *bufio.Reader) {
	t.Helper()
	if _, err := br.ReadByte(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestHTTPRequestResponse(t *testing.T) {
	srv := startServer(t, nil)
	c, br := dial(t, srv)
	io.WriteString(c, get("/health"))
	resp, body := readResponse(t, br)
	if resp.StatusCode != http.StatusOK || string(body) != `{"status":"ok"}` {
		t.Fatalf("got %d %q", resp.StatusCode, body)
	}

	io.WriteString(c, get("/nowhere"))
	resp, body = readResponse(t, br)
	if resp.StatusCode != http.StatusNotFound || !strings.Contains(string(body), "message") {
		t.Fatalf("got %d %q", resp.StatusCode, body)
	}
}

func TestPipelinedAndSplitRequests(t *testing.T) {
	srv := startServer(t, nil)
	c, br := dial(t, srv)

	io.WriteString(c, get("/health")+"POST /echo HTTP/1.1\r\nContent-Length: 4\r\n\r\nping")
	if resp, _ := readResponse(t, br); resp.StatusCode != http.StatusOK {
		t.Fatalf("first pipelined status %d", resp.StatusCode)
	}
	if _, body := readResponse(t, br); string(body) != "ping" {
		t.Fatalf("second pipelined body %q", body)
	}

	// A request split across writes is answered once complete.
	io.WriteString(c, "POST /echo HTTP/1.1\r\nContent-Le")
	time.Sleep(30 * time.Millisecond)
	io.WriteString(c, "ngth: 5\r\n\r\nhel")
	time.Sleep(30 * time.Millisecond)
	io.WriteString(c, "lo")
	if _, body := readResponse(t, br); string(body) != "hello" {
		t.Fatalf("split body %q", body)
	}
}

func TestMalformedRequestGets400AndClose(t *testing.T) {
	srv := startServer(t, nil)
	c, br := dial(t, srv)
	io.WriteString(c, "NONSENSE\r\n\r\n")
	resp, _ := readResponse(t, br)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
	expectEOF(t, br)
	waitFor(t, "table cleanup", func() bool { return srv.Len() == 0 })
}

func TestHalfCloseDrainsResponse(t *testing.T) {
	srv := startServer(t, nil)
	c, br := dial(t, srv)
	io.WriteString(c, get("/big"))
	c.(*net.TCPConn).CloseWrite()
	resp, body := readResponse(t, br)
	if resp.StatusCode != http.StatusOK || len(body) != bigBody {
		t.Fatalf("status %d, %d body bytes", resp.StatusCode, len(body))
	}
	expectEOF(t, br)
}

func TestSlowReaderReceivesLargeResponse(t *testing.T) {
	srv := startServer(t, nil)
	c, br := dial(t, srv)
	io.WriteString(c, get("/big"))
	// Let the server fill the socket buffer and park in Writing.
	time.Sleep(100 * time.Millisecond)
	resp, body := readResponse(t, br)
	if resp.StatusCode != http.StatusOK || len(body) != bigBody {
		t.Fatalf("status %d, %d body bytes", resp.StatusCode, len(body))
	}
	// The connection is still usable afterwards.
	io.WriteString(c, get("/health"))
	if resp, _ := readResponse(t, br); resp.StatusCode != http.StatusOK {
		t.Fatalf("follow-up status %d", resp.StatusCode)
	}
}

const upgrade = "GET /ws HTTP/1.1\r\n" +
	"Host: test\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n\r\n"

func TestUpgradeOnSameSocket(t *testing.T) {
	srv := startServer(t, nil)
	c, br := dial(t, srv)

	io.WriteString(c, get("/health"))
	if resp, _ := readResponse(t, br); resp.StatusCode != http.StatusOK {
		t.Fatalf("pre-upgrade status %d", resp.StatusCode)
	}

	// The upgrade request and the first frame arrive in one write.
	c.Write(append([]byte(upgrade), clientFrame(protocol.OpcodeText, []byte("hi"))...))
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Sec-WebSocket-Accept"); got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Fatalf("accept token %q", got)
	}

	f, err := ws.ReadFrame(br)
	if err != nil {
		t.Fatal(err)
	}
	if f.Header.OpCode != ws.OpText || f.Header.Masked || string(f.Payload) != "hi" {
		t.Fatalf("echo frame %+v %q", f.Header, f.Payload)
	}
	waitFor(t, "pool membership", func() bool { return srv.Pool().Len() == 1 })
}

func TestHandshakeFailureKeepsConnection(t *testing.T) {
	srv := startServer(t, nil)
	c, br := dial(t, srv)
	io.WriteString(c, "GET /ws HTTP/1.1\r\nHost: test\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n")
	resp, body := readResponse(t, br)
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(string(body), "Sec-WebSocket-Key") {
		t.Fatalf("got %d %q", resp.StatusCode, body)
	}
	io.WriteString(c, get("/health"))
	if resp, _ := readResponse(t, br); resp.StatusCode != http.StatusOK {
		t.Fatalf("follow-up status %d", resp.StatusCode)
	}
	if srv.Pool().Len() != 0 {
		t.Fatal("failed handshake joined the pool")
	}
}

func upgraded(t *testing.T, srv *server.Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	c, br := dial(t, srv)
	io.WriteString(c, upgrade)
	resp, err := http.ReadResponse(br, nil)
	if err != nil || resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("upgrade failed: %v %v", resp, err)
	}
	return c, br
}

func TestControlFrames(t *testing.T) {
	srv := startServer(t, nil)
	c, br := upgraded(t, srv)

	c.Write(clientFrame(protocol.OpcodePing, []byte("are you there")))
	f, err := ws.ReadFrame(br)
	if err != nil {
		t.Fatal(err)
	}
	if f.Header.OpCode != ws.OpPong || string(f.Payload) != "are you there" {
		t.Fatalf("pong %+v %q", f.Header, f.Payload)
	}

	c.Write(clientFrame(protocol.OpcodeClose, protocol.Close(protocol.CloseGoingAway, "bye").Payload))
	f, err = ws.ReadFrame(br)
	if err != nil {
		t.Fatal(err)
	}
	if f.Header.OpCode != ws.OpClose {
		t.Fatalf("expected close echo, got %v", f.Header.OpCode)
	}
	if code, _ := ws.ParseCloseFrameData(f.Payload); code != ws.StatusGoingAway {
		t.Fatalf("close code %d", code)
	}
	expectEOF(t, br)
	waitFor(t, "pool cleanup", func() bool { return srv.Pool().Len() == 0 })
}

func TestUnmaskedFrameIsProtocolError(t *testing.T) {
	srv := startServer(t, nil)
	c, br := upgraded(t, srv)
	c.Write(protocol.Text("not masked").Encode())
	f, err := ws.ReadFrame(br)
	if err != nil {
		t.Fatal(err)
	}
	if code, _ := ws.ParseCloseFrameData(f.Payload); f.Header.OpCode != ws.OpClose || code != ws.StatusProtocolError {
		t.Fatalf("got %v code %d", f.Header.OpCode, code)
	}
	expectEOF(t, br)
}

func TestHandlerErrorClosesWith1011(t *testing.T) {
	srv := startServer(t, nil)
	c, br := upgraded(t, srv)
	c.Write(clientFrame(protocol.OpcodeText, []byte("fail")))
	f, err := ws.ReadFrame(br)
	if err != nil {
		t.Fatal(err)
	}
	if code, _ := ws.ParseCloseFrameData(f.Payload); code != ws.StatusInternalServerError {
		t.Fatalf("close code %d", code)
	}
	expectEOF(t, br)
}

func TestGorillaClientEcho(t *testing.T) {
	srv := startServer(t, nil)
	conn, _, err := wsDialer.Dial("ws://"+addr(srv)+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	for i, size := range []int{5, 300, 70000} {
		msg := bytes.Repeat([]byte{byte('a' + i)}, size)
		if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			t.Fatal(err)
		}
		typ, got, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if typ != websocket.BinaryMessage || !bytes.Equal(got, msg) {
			t.Fatalf("size %d: echo mismatch", size)
		}
	}
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func TestBroadcastFanOutSurvivesClosedPeer(t *testing.T) {
	srv := startServer(t, func(c *server.Config) { c.IdleTimeout = 0 })
	clients := make([]*websocket.Conn, 3)
	for i := range clients {
		conn, _, err := wsDialer.Dial("ws://"+addr(srv)+"/ws", nil)
		if err != nil {
			t.Fatal(err)
		}
		defer conn.Close()
		clients[i] = conn
	}
	waitFor(t, "three pool members", func() bool { return srv.Pool().Len() == 3 })

	// Drop one peer without a close handshake, then broadcast immediately.
	clients[1].UnderlyingConn().Close()
	n := srv.Pool().Broadcast([]byte(`{"event":"round_start"}`))
	if n < 2 {
		t.Fatalf("broadcast reached %d connections", n)
	}

	for _, i := range []int{0, 2} {
		clients[i].SetReadDeadline(time.Now().Add(3 * time.Second))
		_, msg, err := clients[i].ReadMessage()
		if err != nil {
			t.Fatalf("client %d: %v", i, err)
		}
		if string(msg) != `{"event":"round_start"}` {
			t.Fatalf("client %d got %q", i, msg)
		}
	}
	waitFor(t, "closed peer removed", func() bool { return srv.Pool().Len() == 2 })

	// Later broadcasts keep working for the survivors.
	if n, err := srv.Pool().BroadcastJSON(map[string]int{"round": 2}); err != nil || n != 2 {
		t.Fatalf("second broadcast: %d, %v", n, err)
	}
	for _, i := range []int{0, 2} {
		if _, msg, err := clients[i].ReadMessage(); err != nil || string(msg) != `{"round":2}` {
			t.Fatalf("client %d: %q %v", i, msg, err)
		}
	}
}

func TestIdleReaping(t *testing.T) {
	srv := startServer(t, func(c *server.Config) { c.IdleTimeout = 200 * time.Millisecond })
	_, staleReader := dial(t, srv)
	fresh, freshReader := dial(t, srv)
	waitFor(t, "both accepted", func() bool { return srv.Len() == 2 })

	// Keep one connection busy for longer than the timeout.
	for i := 0; i < 10; i++ {
		io.WriteString(fresh, get("/health"))
		if resp, _ := readResponse(t, freshReader); resp.StatusCode != http.StatusOK {
			t.Fatalf("fresh request %d: status %d", i, resp.StatusCode)
		}
		time.Sleep(50 * time.Millisecond)
	}
	expectEOF(t, staleReader)
	if srv.Len() != 1 {
		t.Fatalf("table holds %d connections, want 1", srv.Len())
	}
}

func TestNoTimeoutNeverReaps(t *testing.T) {
	srv := startServer(t, func(c *server.Config) { c.IdleTimeout = 0 })
	c, br := dial(t, srv)
	time.Sleep(300 * time.Millisecond)
	io.WriteString(c, get("/health"))
	if resp, _ := readResponse(t, br); resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestBindFailure(t *testing.T) {
	srv := startServer(t, nil)
	second := server.New(&server.Config{Address: "127.0.0.1", Port: srv.Port()}, nil)
	err := second.Start()
	if !errors.Is(err, api.ErrBind) {
		t.Fatalf("expected bind error, got %v", err)
	}
}

func TestShutdownClosesEverything(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.Address, cfg.Port = "127.0.0.1", 0
	srv := server.New(cfg, echoHandler())
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	var readers []*bufio.Reader
	for i := 0; i < 3; i++ {
		_, br := dial(t, srv)
		readers = append(readers, br)
	}
	waitFor(t, "accepts", func() bool { return srv.Len() == 3 })

	if err := srv.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := srv.Shutdown(); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	for _, br := range readers {
		if _, err := br.ReadByte(); err == nil {
			t.Fatal("connection survived shutdown")
		}
	}
	if _, err := net.DialTimeout("tcp", addr(srv), time.Second); err == nil {
		t.Fatal("listener still accepting after shutdown")
	}
}

func TestManyConcurrentClients(t *testing.T) {
	srv := startServer(t, nil)
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := net.Dial("tcp", addr(srv))
			if err != nil {
				errs <- err
				return
			}
			defer c.Close()
			c.SetDeadline(time.Now().Add(5 * time.Second))
			br := bufio.NewReader(c)
			body := fmt.Sprintf("client-%d", i)
			fmt.Fprintf(c, "POST /echo HTTP/1.1\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
			resp, err := http.ReadResponse(br, nil)
			if err != nil {
				errs <- err
				return
			}
			got, _ := io.ReadAll(resp.Body)
			if string(got) != body {
				errs <- fmt.Errorf("client %d got %q", i, got)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestRateLimitDropsDataFrames(t *testing.T) {
	srv := startServer(t, nil, server.WithRateLimit(rate.Limit(0.001), 2))
	c, br := upgraded(t, srv)
	for i := 0; i < 5; i++ {
		c.Write(clientFrame(protocol.OpcodeText, []byte(strconv.Itoa(i))))
	}
	c.Write(clientFrame(protocol.OpcodePing, []byte("p")))

	want := []struct {
		op      ws.OpCode
		payload string
	}{{ws.OpText, "0"}, {ws.OpText, "1"}, {ws.OpPong, "p"}}
	for _, w := range want {
		f, err := ws.ReadFrame(br)
		if err != nil {
			t.Fatal(err)
		}
		if f.Header.OpCode != w.op || string(f.Payload) != w.payload {
			t.Fatalf("got %v %q, want %v %q", f.Header.OpCode, f.Payload, w.op, w.payload)
		}
	}
}

func TestDebugProbesReportTable(t *testing.T) {
	probes := control.NewDebugProbes()
	srv := startServer(t, nil, server.WithDebugProbes(probes), server.WithMetrics(control.NewMetrics()))
	dial(t, srv)
	dial(t, srv)
	waitFor(t, "two connections", func() bool {
		n, _ := probes.DumpState()["server.http.connections"].(int)
		return n == 2
	})
	if _, ok := probes.DumpState()["server.http.workers"]; !ok {
		t.Error("worker probe missing")
	}
}

func TestOversizedContentLengthClosesConnection(t *testing.T) {
	srv := startServer(t, nil)
	for _, length := range []string{"9223372036854775807", strconv.Itoa(protocol.MaxBodyBytes + 1)} {
		c, br := dial(t, srv)
		io.WriteString(c, "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: "+length+"\r\n\r\n")
		resp, _ := readResponse(t, br)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("Content-Length %s: status = %d, want 400", length, resp.StatusCode)
		}
		expectEOF(t, br)
		c.Close()
	}
	waitFor(t, "empty table", func() bool { return srv.Len() == 0 })
}

func TestHeadResponseHasNoBody(t *testing.T) {
	srv := startServer(t, nil)
	c, br := dial(t, srv)
	io.WriteString(c, "HEAD /health HTTP/1.1\r\nHost: x\r\n\r\n")
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodHead})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.ContentLength != int64(len(`{"status":"ok"}`)) {
		t.Fatalf("HEAD: status %d, length %d", resp.StatusCode, resp.ContentLength)
	}
	io.WriteString(c, get("/health"))
	resp2, body := readResponse(t, br)
	if resp2.StatusCode != http.StatusOK || string(body) != `{"status":"ok"}` {
		t.Fatalf("follow-up GET: %d %q", resp2.StatusCode, body)
	}
}
