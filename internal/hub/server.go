package hub

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ShayCichocki/relay/internal/protocol"
)

// connectDeadline bounds how long a fresh connection may take to announce
// its identity.
const connectDeadline = 10 * time.Second

// wsSender wraps a websocket connection for hub-to-worker frames. gorilla
// allows one concurrent writer, so writes are serialized here.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSender) Send(m *protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSender) Close() error {
	return s.conn.Close()
}

// Server exposes the worker websocket endpoint and the admin HTTP surface.
type Server struct {
	hub      *Hub
	token    string
	upgrader websocket.Upgrader
	srv      *http.Server
}

// NewServer creates a Server listening on addr. An empty token disables the
// bearer check; the credential itself is opaque to the hub.
func NewServer(h *Hub, addr, token string) *Server {
	s := &Server{
		hub:   h,
		token: token,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWorkerConnect)
	mux.HandleFunc("GET /api/workers", s.handleListWorkers)
	mux.HandleFunc("POST /api/tasks", s.handleSubmit)
	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("POST /api/tasks/{id}/stop", s.handleStopTask)
	mux.HandleFunc("POST /api/tasks/{id}/message", s.handleTaskMessage)

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Handler exposes the routing for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe blocks serving until Shutdown.
func (s *Server) ListenAndServe() error {
	log.Printf("[hub] listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("hub server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handleWorkerConnect upgrades the transport, waits for the identity
// announcement, then pumps inbound frames into the hub until the connection
// drops.
func (s *Server) handleWorkerConnect(w http.ResponseWriter, r *http.Request) {
	if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing bearer credential")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[hub] upgrade failed: %v", err)
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(connectDeadline))
	_, data, err := conn.ReadMessage()
	if err != nil {
		log.Printf("[hub] connection dropped before announce: %v", err)
		conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	frame, err := protocol.Decode(data)
	if err != nil || frame.Type != protocol.TypeConnected || frame.Worker == nil || frame.Worker.ID == "" {
		log.Printf("[hub] invalid announce frame, closing")
		conn.Close()
		return
	}

	sender := &wsSender{conn: conn}
	if err := s.hub.AttachWorker(*frame.Worker, sender); err != nil {
		conn.Close()
		return
	}

	workerID := frame.Worker.ID
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		m, err := protocol.Decode(data)
		if err != nil {
			log.Printf("[hub] bad frame from %s: %v", workerID, err)
			continue
		}
		if m.Type == protocol.TypePing {
			_ = sender.Send(&protocol.Message{Type: protocol.TypePong})
			continue
		}
		s.hub.HandleMessage(workerID, m)
	}

	s.hub.DetachWorker(workerID, sender)
	conn.Close()
}
