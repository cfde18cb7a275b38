// Package server runs the accept loop: bind one listener, hand each
// accepted connection its own goroutine, and track which connections are
// live, logging the count as each one opens and closes. Shutdown does not
// list them.
package server

import (
	"errors"
	"log"
	"net"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/epokhe/kvresp/internal/conn"
)

// Server binds addr and dispatches accepted connections against shared.
type Server struct {
	addr   string
	shared *conn.SharedStore

	mu       sync.Mutex
	listener net.Listener
	conns    mapset.Set[uint64]
	nextID   uint64
}

// New builds a Server for addr. shared is the single store every spawned
// connection handler will execute commands against.
func New(addr string, shared *conn.SharedStore) *Server {
	return &Server{
		addr:   addr,
		shared: shared,
		conns:  mapset.NewThreadUnsafeSet[uint64](),
	}
}

// Run binds the listener and accepts connections until the listener is
// closed (by Shutdown) or Accept returns any other error. Each
// connection is served on its own goroutine against the same SharedStore,
// matching the original prototype's single Arc<Mutex<AKVMEM>> handed to
// every spawned task.
func (s *Server) Run() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	log.Printf("listening on %s", l.Addr())

	for {
		nc, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		id := s.track(nc)
		go func() {
			defer s.untrack(id)
			conn.Serve(nc, s.shared)
		}()
	}
}

// Shutdown closes the listener, which unblocks Run's Accept call. It does
// not close in-flight connections; each keeps running its own Serve loop
// until its peer closes or an error ends it.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return nil
	}
	return l.Close()
}

func (s *Server) track(nc net.Conn) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.conns.Add(id)
	log.Printf("connection %d opened from %s (%d active)", id, nc.RemoteAddr(), s.conns.Cardinality())
	return id
}

func (s *Server) untrack(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns.Remove(id)
	log.Printf("connection %d closed (%d active)", id, s.conns.Cardinality())
}
