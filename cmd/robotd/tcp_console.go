package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sessionkernel/robotd/internal/bus"
	"github.com/sessionkernel/robotd/internal/session"
)

// tcpConsole is the reference line-based front-end: each accepted
// connection is its own session, addressed by a freshly minted uuid, and
// every newline-terminated line of input becomes one InputEvent.
type tcpConsole struct {
	addr     string
	manager  *session.Manager
	inputBus *bus.InputBus

	listener net.Listener

	mu    sync.RWMutex
	peers map[string]net.Conn
}

func newTCPConsole(addr string, manager *session.Manager, inputBus *bus.InputBus) *tcpConsole {
	return &tcpConsole{
		addr:     addr,
		manager:  manager,
		inputBus: inputBus,
		peers:    make(map[string]net.Conn),
	}
}

// ID implements router.OutputHandler.
func (c *tcpConsole) ID() string { return "tcp" }

// Emit implements router.OutputHandler: it writes event's text to the
// connection for event.SessionID, or to every connected peer when
// SessionID is empty (a broadcast-style system event).
func (c *tcpConsole) Emit(event *bus.OutputEvent) {
	text := outputText(event)
	if text == "" {
		return
	}
	line := text + "\n"

	c.mu.RLock()
	defer c.mu.RUnlock()

	if event.SessionID != "" {
		if conn, ok := c.peers[event.SessionID]; ok {
			_, _ = conn.Write([]byte(line))
		}
		return
	}
	for _, conn := range c.peers {
		_, _ = conn.Write([]byte(line))
	}
}

func (c *tcpConsole) Start() error {
	listener, err := net.Listen("tcp", c.addr)
	if err != nil {
		return err
	}
	c.listener = listener
	go c.acceptLoop()
	return nil
}

func (c *tcpConsole) Stop() {
	if c.listener != nil {
		_ = c.listener.Close()
	}
	c.mu.Lock()
	for id, conn := range c.peers {
		_ = conn.Close()
		delete(c.peers, id)
	}
	c.mu.Unlock()
}

func (c *tcpConsole) acceptLoop() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			return
		}
		go c.handleConn(conn)
	}
}

func (c *tcpConsole) handleConn(conn net.Conn) {
	sessionID := uuid.NewString()
	logger := slog.Default().With("component", "tcp_console", "session_id", sessionID)
	logger.Info("connection accepted", "remote", conn.RemoteAddr())

	c.mu.Lock()
	c.peers[sessionID] = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.peers, sessionID)
		c.mu.Unlock()
		_ = conn.Close()
		logger.Info("connection closed")
	}()

	_, _ = conn.Write([]byte("robotd tcp console\n"))
	_, _ = conn.Write([]byte(fmt.Sprintf("session: %s\n", sessionID)))

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		event := &bus.InputEvent{
			ID:        uuid.NewString(),
			Source:    "tcp",
			SessionID: sessionID,
			SourceMeta: &bus.SourceMeta{
				Name:         "tcp",
				Format:       "text",
				ContentField: "line",
				Description:  "User input from raw TCP connection.",
			},
			Payload:   map[string]any{"line": line},
			CreatedAt: time.Now(),
		}

		c.inputBus.Publish(event)
		if err := c.manager.Dispatch(event); err != nil {
			logger.Error("dispatch failed", "error", err)
		}
	}
}

func outputText(event *bus.OutputEvent) string {
	if event.Content == nil {
		return ""
	}
	if text, ok := event.Content["text"].(string); ok {
		return text
	}
	if result, ok := event.Content["result"].(string); ok {
		return result
	}
	return ""
}
