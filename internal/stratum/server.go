package stratum

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rkbridge/stratum-bridge/internal/jobs"
)

const (
	connReadTimeout = idleTimeout
	drainWindow     = 10 * time.Second
)

// Server is one instance's Stratum listener: it accepts connections, spins
// up a Session per socket, and fans out job broadcasts from the registry.
type Server struct {
	addr      string
	registry  *jobs.Registry
	allocator *ExtranonceAllocator
	sink      ShareSink
	log       *zap.Logger

	minShareDiff float64
	sharesPerMin float64
	pow2Clamp    bool

	listener net.Listener
	cancel   context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewServer builds a server for one instance; it does not listen until
// Start is called.
func NewServer(addr string, registry *jobs.Registry, sink ShareSink, minShareDiff, sharesPerMin float64, pow2Clamp bool, log *zap.Logger) *Server {
	return &Server{
		addr:         addr,
		registry:     registry,
		allocator:    NewExtranonceAllocator(),
		sink:         sink,
		log:          log,
		minShareDiff: minShareDiff,
		sharesPerMin: sharesPerMin,
		pow2Clamp:    pow2Clamp,
		sessions:     make(map[string]*Session),
	}
}

// Start opens the listening socket and begins accepting connections.
func (srv *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", srv.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.addr, err)
	}
	srv.listener = ln

	ctx, cancel := context.WithCancel(ctx)
	srv.cancel = cancel

	go srv.acceptLoop(ctx)
	srv.log.Info("stratum listening", zap.String("addr", srv.addr))
	return nil
}

// Stop transitions every session to Draining, stops accepting new
// connections, sleeps for the full drainWindow so in-flight work can finish,
// then closes all remaining sessions.
func (srv *Server) Stop() {
	if srv.cancel != nil {
		srv.cancel()
	}
	if srv.listener != nil {
		srv.listener.Close()
	}

	srv.mu.RLock()
	sessions := make([]*Session, 0, len(srv.sessions))
	for _, s := range srv.sessions {
		s.Drain()
		sessions = append(sessions, s)
	}
	srv.mu.RUnlock()

	time.Sleep(drainWindow)

	for _, s := range sessions {
		s.Close()
	}
}

// SessionCount returns the number of live sessions.
func (srv *Server) SessionCount() int {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	return len(srv.sessions)
}

// BroadcastJob delivers a new job to every Active session. Draining
// sessions are skipped per the state machine's job-broadcast rule.
func (srv *Server) BroadcastJob(job *jobs.Job, cleanJobs bool) {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	for id, s := range srv.sessions {
		if s.State() != StateActive {
			continue
		}
		if err := s.NotifyJob(job, cleanJobs); err != nil {
			srv.log.Debug("failed to notify session of new job", zap.String("session", id), zap.Error(err))
		}
	}
}

func (srv *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			srv.log.Warn("accept failed", zap.Error(err))
			continue
		}
		go srv.handleConnection(ctx, conn)
	}
}

// readDeadlineFor enforces the handshake's per-phase timeouts: a miner that
// never subscribes or never authorizes is dropped quickly, while an
// established session gets the long idle timeout.
func readDeadlineFor(state State) time.Duration {
	switch state {
	case StateNew:
		return subscribeDeadline
	case StateSubscribed:
		return authorizeDeadline
	default:
		return connReadTimeout
	}
}

func (srv *Server) handleConnection(ctx context.Context, conn net.Conn) {
	id := uuid.NewString()
	log := srv.log.With(zap.String("remote", conn.RemoteAddr().String()))

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}

	codec := NewCodec(conn)
	session := NewSession(id, codec, srv.registry, srv.allocator, srv.sink, srv.minShareDiff, srv.sharesPerMin, srv.pow2Clamp, log)

	srv.mu.Lock()
	srv.sessions[id] = session
	srv.mu.Unlock()

	defer func() {
		session.Close()
		srv.mu.Lock()
		delete(srv.sessions, id)
		srv.mu.Unlock()
		conn.Close()
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(readDeadlineFor(session.State())))
		req, err := codec.ReadRequest()
		if err != nil {
			if ctx.Err() == nil {
				log.Debug("connection closed", zap.Error(err))
			}
			return
		}
		if err := session.HandleRequest(req); err != nil {
			log.Debug("error handling request", zap.Error(err), zap.String("method", req.Method))
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}
