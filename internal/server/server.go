// Package server implements keva's TCP request loop over the RESP protocol.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/oxfell/keva/internal/command"
	"github.com/oxfell/keva/internal/logger"
	"github.com/oxfell/keva/internal/metrics"
	"github.com/oxfell/keva/internal/protocol"
)

// readChunkSize is the most the loop reads from a connection at once.
// A request must arrive whole within a single chunk; bytes are never
// reassembled across reads, and anything after the first complete request
// in a chunk is discarded.
const readChunkSize = 1024

// Config holds server configuration.
type Config struct {
	MaxClients int
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		MaxClients: 10000,
	}
}

// clientConn represents a client connection with state.
type clientConn struct {
	id          int64
	conn        net.Conn
	addr        string
	createdAt   time.Time
	lastCommand time.Time
	cmdCount    int64
}

// Server represents the keva TCP server.
type Server struct {
	addr       string
	dispatcher *command.Dispatcher
	config     Config
	metrics    *metrics.Metrics
	listener   net.Listener
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	connCount  int64
	nextConnID int64
	clients    map[int64]*clientConn
	startTime  time.Time
	totalCmds  int64
	totalConns int64
}

// New creates a new Server with the specified address and dispatcher.
func New(addr string, d *command.Dispatcher, m *metrics.Metrics) *Server {
	return NewWithConfig(addr, d, m, DefaultConfig())
}

// NewWithConfig creates a new Server with the specified configuration.
func NewWithConfig(addr string, d *command.Dispatcher, m *metrics.Metrics, cfg Config) *Server {
	return &Server{
		addr:       addr,
		dispatcher: d,
		config:     cfg,
		metrics:    m,
		clients:    make(map[int64]*clientConn),
		startTime:  time.Now(),
	}
}

// Start starts the server and listens for connections.
// It blocks until the context is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: failed to listen: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	logger.Info("keva server listening", zap.String("addr", listener.Addr().String()))

	// Handle context cancellation
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.RLock()
			closed := s.closed
			s.mu.RUnlock()

			if closed {
				return nil
			}
			logger.Error("failed to accept connection", zap.Error(err))
			continue
		}

		// Check max clients
		s.mu.RLock()
		currentClients := len(s.clients)
		s.mu.RUnlock()

		if s.config.MaxClients > 0 && currentClients >= s.config.MaxClients {
			conn.Close()
			logger.Warn("max clients reached, rejecting connection",
				zap.String("addr", conn.RemoteAddr().String()))
			continue
		}

		s.mu.Lock()
		s.nextConnID++
		connID := s.nextConnID
		client := &clientConn{
			id:          connID,
			conn:        conn,
			addr:        conn.RemoteAddr().String(),
			createdAt:   time.Now(),
			lastCommand: time.Now(),
		}
		s.clients[connID] = client
		s.connCount++
		s.totalConns++
		s.mu.Unlock()

		s.metrics.ConnectionsTotal.Inc()
		s.metrics.ConnectionsActive.Inc()

		s.wg.Add(1)
		go func(c *clientConn) {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.clients, c.id)
				s.connCount--
				s.mu.Unlock()
				s.metrics.ConnectionsActive.Dec()
			}()
			s.handleConnection(ctx, c)
		}(client)
	}
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listener := s.listener
	s.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}

	// Wait for all connections to finish
	s.wg.Wait()

	return err
}

// Addr returns the listener address, or nil before Start. Useful when the
// configured address picked port 0.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stats reports connection and command totals.
type Stats struct {
	Connections   int64 `json:"connections"`
	TotalConns    int64 `json:"total_connections"`
	TotalCommands int64 `json:"total_commands"`
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Connections:   s.connCount,
		TotalConns:    s.totalConns,
		TotalCommands: atomic.LoadInt64(&s.totalCmds),
	}
}

// handleConnection handles a single client connection: read one chunk,
// decode one request, write one reply.
func (s *Server) handleConnection(ctx context.Context, client *clientConn) {
	defer client.conn.Close()

	logger.Info("client connected",
		zap.Int64("id", client.id), zap.String("addr", client.addr))

	writer := protocol.NewWriter(client.conn)
	buf := make([]byte, readChunkSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := client.conn.Read(buf)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				logger.Warn("client read failed",
					zap.Int64("id", client.id), zap.Error(err))
			} else {
				logger.Info("client disconnected",
					zap.Int64("id", client.id), zap.String("addr", client.addr))
			}
			return
		}
		if n == 0 {
			continue
		}

		client.lastCommand = time.Now()
		atomic.AddInt64(&client.cmdCount, 1)
		atomic.AddInt64(&s.totalCmds, 1)

		reply, quit, err := s.dispatchChunk(buf[:n])
		if err != nil {
			// Malformed frames and failed handlers both poison the
			// connection: answer once, then drop it.
			if errors.Is(err, protocol.ErrMalformed) {
				s.metrics.ProtocolErrors.Inc()
			}
			writer.WriteError("ERR Internal error: " + err.Error())
			logger.Warn("closing client after error",
				zap.Int64("id", client.id), zap.Error(err))
			return
		}

		if err := writer.WriteValue(reply); err != nil {
			logger.Warn("client write failed",
				zap.Int64("id", client.id), zap.Error(err))
			return
		}
		if quit {
			logger.Info("client quit",
				zap.Int64("id", client.id), zap.String("addr", client.addr))
			return
		}
	}
}

// dispatchChunk decodes the single request at the start of chunk and
// executes it.
func (s *Server) dispatchChunk(chunk []byte) (protocol.Value, bool, error) {
	val, err := protocol.NewParser(chunk).Parse()
	if err != nil {
		return protocol.Value{}, false, err
	}
	return s.dispatcher.Dispatch(val)
}
