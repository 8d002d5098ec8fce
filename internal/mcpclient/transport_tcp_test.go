package mcpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"
)

// startEchoServer accepts one connection and runs handle on it, closing the
// listener once the test finishes.
func startEchoServer(t *testing.T, handle func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		handle(conn)
	}()
	return ln.Addr().String()
}

func TestTCPTransport_CallRoundTrip(t *testing.T) {
	addr := startEchoServer(t, func(conn net.Conn) {
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			var req JSONRPCRequest
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				return
			}
			resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"ok":true}`)}
			data, _ := json.Marshal(resp)
			conn.Write(append(data, '\n'))
		}
	})

	tr := NewTCPTransport(&ServerConfig{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tr.Close()

	result, err := tr.Call(ctx, "tools/list", nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var decoded map[string]bool
	if err := json.Unmarshal(result, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded["ok"] {
		t.Fatalf("unexpected result: %s", result)
	}
}

func TestTCPTransport_ServerInitiatedRequest(t *testing.T) {
	addr := startEchoServer(t, func(conn net.Conn) {
		defer conn.Close()
		req := JSONRPCRequest{JSONRPC: "2.0", ID: int64(1), Method: "elicitation/create",
			Params: json.RawMessage(`{"message":"hi"}`)}
		data, _ := json.Marshal(req)
		conn.Write(append(data, '\n'))

		scanner := bufio.NewScanner(conn)
		scanner.Scan() // wait for the client's Respond
	})

	tr := NewTCPTransport(&ServerConfig{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tr.Close()

	select {
	case req := <-tr.Requests():
		if req.Method != "elicitation/create" {
			t.Fatalf("unexpected method %q", req.Method)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server-initiated request")
	}

	if err := tr.Respond(ctx, int64(1), map[string]string{"action": "accept"}, nil); err != nil {
		t.Fatalf("respond: %v", err)
	}
}

func TestTCPTransport_CallTimesOutOnNoResponse(t *testing.T) {
	addr := startEchoServer(t, func(conn net.Conn) {
		defer conn.Close()
		buf := make([]byte, 4096)
		conn.Read(buf) // read the request but never respond
		<-time.After(500 * time.Millisecond)
	})

	tr := NewTCPTransport(&ServerConfig{Addr: addr, Timeout: 100 * time.Millisecond})
	ctx := context.Background()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tr.Close()

	_, err := tr.Call(ctx, "tools/list", nil)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}
