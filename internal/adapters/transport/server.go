// Package transport delivers jump tables to running instances over
// Server-Sent Events.
//
// An instance connects to GET /hotreload and reports the load address of its
// reference symbol in the aslr_reference query parameter. Every jump table is
// rebased to that address before delivery, so instances loaded at different
// slides each receive addresses valid in their own address space. New
// connections replay the tables broadcast since the last full rebuild.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"go.trai.ch/hotswap/internal/core/domain"
	"go.trai.ch/hotswap/internal/core/ports"
	"go.trai.ch/zerr"
)

type connection struct {
	events    chan *domain.JumpTable
	reference uint64
}

// Server implements ports.Transport.
type Server struct {
	logger ports.Logger

	mu        sync.RWMutex
	conns     map[*connection]bool
	history   []*domain.JumpTable
	reference uint64
	refKnown  bool
}

// NewServer creates a Server with no connections and empty history.
func NewServer(logger ports.Logger) *Server {
	return &Server{
		logger: logger,
		conns:  make(map[*connection]bool),
	}
}

// Handler returns the HTTP handler serving the hot-reload endpoint.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/hotreload", s.handleHotReload).Methods(http.MethodGet)
	return r
}

// Reference returns the ASLR reference reported by the most recently
// connected instance.
func (s *Server) Reference() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reference, s.refKnown
}

// Broadcast delivers the jump table to every connected instance and records
// it for replay. The table's addresses must be cache-relative; rebasing to
// each instance's load address happens at delivery.
func (s *Server) Broadcast(ctx context.Context, table *domain.JumpTable) error {
	if table == nil {
		return zerr.New("nil jump table")
	}

	s.mu.Lock()
	s.history = append(s.history, table)
	conns := make([]*connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		select {
		case c.events <- table:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// A stalled connection does not hold up the build loop.
			s.logger.Warn("dropping jump table for slow hot-reload connection")
		}
	}
	return nil
}

// Reset clears the replay history. Called when a full rebuild makes previous
// patches meaningless.
func (s *Server) Reset() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}

func (s *Server) handleHotReload(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	reference, err := strconv.ParseUint(r.URL.Query().Get("aslr_reference"), 10, 64)
	if err != nil {
		http.Error(w, "missing or invalid aslr_reference", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	conn := &connection{
		events:    make(chan *domain.JumpTable, 16),
		reference: reference,
	}

	s.mu.Lock()
	s.conns[conn] = true
	s.reference = reference
	s.refKnown = true
	replay := make([]*domain.JumpTable, len(s.history))
	copy(replay, s.history)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	s.logger.Info("hot-reload client connected")

	for _, table := range replay {
		if err := writeEvent(w, table.RebaseFor(reference)); err != nil {
			return
		}
		flusher.Flush()
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case table := <-conn.events:
			if err := writeEvent(w, table.RebaseFor(reference)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent writes a single SSE frame: "data: {json}\n\n".
func writeEvent(w http.ResponseWriter, table *domain.JumpTable) error {
	data, err := json.Marshal(table)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
