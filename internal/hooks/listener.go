package hooks

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/drewfead/vigil/internal/logging"
	"github.com/google/uuid"
)

// Handler receives decoded events. It is called from the connection's
// goroutine and must hand the event off rather than mutate shared state.
type Handler func(Event)

// Listener accepts one message per connection on a Unix socket.
type Listener struct {
	socketPath  string
	handler     Handler
	readTimeout time.Duration
	maxBytes    int
	log         *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Listener.
type Option func(*Listener)

// WithReadTimeout bounds how long a connection may take to send its message.
func WithReadTimeout(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.readTimeout = d
		}
	}
}

// WithMaxMessageBytes bounds the per-connection read buffer.
func WithMaxMessageBytes(n int) Option {
	return func(l *Listener) {
		if n > 0 {
			l.maxBytes = n
		}
	}
}

// NewListener creates a listener for socketPath.
func NewListener(socketPath string, handler Handler, opts ...Option) *Listener {
	l := &Listener{
		socketPath:  socketPath,
		handler:     handler,
		readTimeout: 2 * time.Second,
		maxBytes:    64 * 1024,
		log:         logging.Component("hooks"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SocketPath returns the path the listener binds.
func (l *Listener) SocketPath() string {
	return l.socketPath
}

// Start binds the socket and begins accepting connections.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.listener != nil {
		return nil
	}

	// A stale socket from a previous run blocks the bind.
	os.Remove(l.socketPath)

	listener, err := net.Listen("unix", l.socketPath)
	if err != nil {
		return fmt.Errorf("listen on hook socket: %w", err)
	}

	// Hooks run as whatever user launched the monitored process.
	if err := os.Chmod(l.socketPath, 0777); err != nil {
		l.log.Warn("failed to open hook socket permissions", "socket", l.socketPath, "error", err)
	}

	l.listener = listener
	l.done = make(chan struct{})
	l.wg.Add(1)
	go l.acceptLoop(listener, l.done)
	return nil
}

// Stop closes the socket and waits for in-flight connections.
func (l *Listener) Stop() error {
	l.mu.Lock()
	listener := l.listener
	done := l.done
	l.listener = nil
	l.mu.Unlock()

	if listener == nil {
		return nil
	}

	close(done)
	err := listener.Close()
	l.wg.Wait()
	os.Remove(l.socketPath)
	return err
}

func (l *Listener) acceptLoop(listener net.Listener, done <-chan struct{}) {
	defer l.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			l.log.Warn("hook accept failed", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		l.wg.Add(1)
		go l.handleConnection(conn)
	}
}

// handleConnection reads a single bounded message and closes the
// connection. Nothing is ever written back.
func (l *Listener) handleConnection(conn net.Conn) {
	defer l.wg.Done()
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			logging.CapturePanic(r, "goroutine", "hook-connection")
		}
	}()

	connID := uuid.NewString()
	conn.SetReadDeadline(time.Now().Add(l.readTimeout))

	r := bufio.NewReader(io.LimitReader(conn, int64(l.maxBytes)))
	line, err := r.ReadBytes('\n')
	if err != nil && err != io.EOF {
		l.log.Debug("hook read failed", "conn", connID, "error", err)
		return
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	ev, err := Decode(line)
	if err != nil {
		l.log.Debug("dropping hook message", "conn", connID, "error", err)
		return
	}

	l.log.Debug("hook event", "conn", connID, "event", ev.Kind, "session_id", ev.SessionID, "tool", ev.ToolName)
	if l.handler != nil {
		l.handler(ev)
	}
}
