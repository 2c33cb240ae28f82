package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/devtap/internal/domain/events"
	"github.com/brianly1003/devtap/internal/domain/ports"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Local monitoring daemon; origin checks are left to deployments
		// that front this with a proxy.
		return true
	},
}

// ListingProvider supplies the current session listing for the initial
// push to new subscribers.
type ListingProvider interface {
	Listing() []events.SessionInfo
}

// Server is the subscriber-facing WebSocket server.
type Server struct {
	addr    string
	server  *http.Server
	hub     ports.EventHub
	listing ListingProvider

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewServer creates a new WebSocket server.
func NewServer(host string, port int, hub ports.EventHub, listing ListingProvider) *Server {
	addr := fmt.Sprintf("%s:%d", host, port)
	s := &Server{
		addr:    addr,
		hub:     hub,
		listing: listing,
		clients: make(map[string]*Client),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
		// No Read/WriteTimeout here: they would cut long-lived WebSocket
		// connections. The pumps manage their own deadlines.
	}

	return s
}

// Start starts the WebSocket server.
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("subscriber server starting")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("subscriber server error")
		}
	}()

	return nil
}

// Stop gracefully stops the WebSocket server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("subscriber server stopping")

	s.mu.Lock()
	for _, client := range s.clients {
		client.Close()
	}
	s.clients = make(map[string]*Client)
	s.mu.Unlock()

	return s.server.Shutdown(ctx)
}

// handleWebSocket upgrades the connection, pushes the current session
// listing, and wires the client into the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := NewClient(conn, func(id string) {
		s.hub.Unsubscribe(id)
		s.removeClient(id)
	})

	s.mu.Lock()
	s.clients[client.ID()] = client
	s.mu.Unlock()

	client.Start()

	// A new subscriber immediately receives the full current listing.
	initial := events.NewListEvent(s.listing.Listing())
	if data, err := initial.ToJSON(); err == nil {
		client.Send(data)
	}

	s.hub.Subscribe(NewClientSubscriber(client))

	log.Info().
		Str("client_id", client.ID()).
		Str("remote_addr", conn.RemoteAddr().String()).
		Msg("subscriber connected")
}

// removeClient removes a client from the server.
func (s *Server) removeClient(id string) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
	log.Info().Str("client_id", id).Msg("subscriber disconnected")
}

// ClientCount returns the number of connected subscribers.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
