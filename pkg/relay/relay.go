// Package relay wires the C7 transport, C6 subscription registry, and
// C5 storage together into the orchestrator that implements the core
// NIP-01 message flow (spec.md §4.7): validate, persist, broadcast,
// acknowledge.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/paul/glienicke/pkg/event"
	"github.com/paul/glienicke/pkg/nips/nip09"
	"github.com/paul/glienicke/pkg/nips/nip11"
	"github.com/paul/glienicke/pkg/nips/nip40"
	"github.com/paul/glienicke/pkg/nips/nip45"
	"github.com/paul/glienicke/pkg/protocol"
	"github.com/paul/glienicke/pkg/registry"
	"github.com/paul/glienicke/pkg/storage"
	"github.com/paul/glienicke/pkg/transport/ws"
)

// Version of the relay.
const Version = "1.0.0"

// Relay is the main relay orchestrator: it upgrades connections,
// dispatches protocol messages, and owns the store and subscription
// registry shared by every connected client.
type Relay struct {
	store    storage.Store
	registry *registry.Registry
	info     *nip11.RelayInformationDocument

	clientsMu sync.Mutex
	clients   map[*protocol.Client]bool
}

// New creates a new relay instance backed by store.
func New(store storage.Store) *Relay {
	return &Relay{
		store:    store,
		registry: registry.New(),
		info: &nip11.RelayInformationDocument{
			Name:          "glienicke",
			Description:   "A Nostr relay written in Go",
			Software:      "https://github.com/paul/glienicke",
			Version:       Version,
			SupportedNIPs: []int{1, 9, 11, 40, 45},
		},
		clients: make(map[*protocol.Client]bool),
	}
}

var _ protocol.Handler = (*Relay)(nil)

// ServeHTTP handles both the NIP-11 relay information document (via
// content negotiation) and the WebSocket upgrade for the protocol
// itself.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Header.Get("Accept") == "application/nostr+json" {
		w.Header().Set("Content-Type", "application/nostr+json")
		if err := json.NewEncoder(w).Encode(r.info); err != nil {
			log.Printf("failed to encode relay information document: %v", err)
		}
		return
	}

	conn, err := ws.Upgrade(w, req)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		http.Error(w, "websocket upgrade failed", http.StatusInternalServerError)
		return
	}

	client := protocol.NewClient(conn, r)

	r.clientsMu.Lock()
	r.clients[client] = true
	r.clientsMu.Unlock()

	defer func() {
		r.clientsMu.Lock()
		delete(r.clients, client)
		r.clientsMu.Unlock()
		r.registry.RemoveByConnection(client)
		client.Close()
	}()

	client.Start(req.Context())
}

// HandleEvent processes an EVENT message: validate, persist, broadcast,
// acknowledge (spec.md §4.7). evt has already passed signature
// validation in the protocol layer by the time it reaches here.
func (r *Relay) HandleEvent(ctx context.Context, c *protocol.Client, evt *event.Event) error {
	if err := nip09.Validate(evt); err != nil {
		c.SendOK(evt.ID, false, fmt.Sprintf("invalid: %v", err))
		return nil
	}

	if nip40.IsExpired(evt) {
		c.SendOK(evt.ID, false, "invalid: event has expired")
		return nil
	}

	if _, err := r.store.GetEvent(ctx, evt.ID); err == nil {
		c.SendOK(evt.ID, true, "duplicate: already have this event")
		return nil
	} else if err != storage.ErrNotFound {
		c.SendOK(evt.ID, false, fmt.Sprintf("error: %v", err))
		return fmt.Errorf("failed to check for existing event: %w", err)
	}

	if err := r.store.SaveEvent(ctx, evt); err != nil {
		c.SendOK(evt.ID, false, fmt.Sprintf("error: %v", err))
		return fmt.Errorf("failed to save event: %w", err)
	}

	r.registry.Broadcast(evt)
	c.SendOK(evt.ID, true, "")
	return nil
}

// HandleReq processes a REQ message: register the subscription, send
// the matching backlog, then EOSE (spec.md §4.6).
func (r *Relay) HandleReq(ctx context.Context, c *protocol.Client, subID string, filters []*event.Filter) error {
	r.registry.Add(c, subID, filters)

	events, err := r.store.QueryEvents(ctx, filters)
	if err != nil {
		return fmt.Errorf("failed to query events: %w", err)
	}

	for _, evt := range events {
		if nip40.IsExpired(evt) {
			continue
		}
		if err := c.SendEvent(subID, evt); err != nil {
			log.Printf("failed to send stored event to client: %v", err)
		}
	}

	if err := c.SendEOSE(subID); err != nil {
		log.Printf("failed to send EOSE to client: %v", err)
	}

	return nil
}

// HandleClose processes a CLOSE message.
func (r *Relay) HandleClose(ctx context.Context, c *protocol.Client, subID string) error {
	r.registry.RemoveSubscription(c, subID)
	return nil
}

// HandleCount processes a COUNT message (NIP-45).
func (r *Relay) HandleCount(ctx context.Context, c *protocol.Client, countID string, filters []*event.Filter) error {
	count, err := nip45.Count(ctx, r.store, filters)
	if err != nil {
		c.SendClosed(countID, fmt.Sprintf("error: %v", err))
		return fmt.Errorf("failed to count events: %w", err)
	}

	if err := c.SendCount(countID, count, false); err != nil {
		return fmt.Errorf("failed to send COUNT response: %w", err)
	}
	return nil
}

// GetMux returns an http.ServeMux with the relay mounted at "/".
func (r *Relay) GetMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/", r)
	return mux
}

// Close shuts down the relay, closing every connected client and the
// underlying store.
func (r *Relay) Close() error {
	r.clientsMu.Lock()
	defer r.clientsMu.Unlock()

	for client := range r.clients {
		client.Close()
	}

	return r.store.Close()
}

// Start starts the relay's plain HTTP server.
func (r *Relay) Start(addr string) error {
	log.Printf("relay starting on %s", addr)
	return http.ListenAndServe(addr, r.GetMux())
}

// StartTLS starts the relay's HTTPS server (WSS).
func (r *Relay) StartTLS(addr, certFile, keyFile string) error {
	log.Printf("relay starting with TLS on %s", addr)

	server := &http.Server{
		Addr:    addr,
		Handler: r.GetMux(),
	}
	return server.ListenAndServeTLS(certFile, keyFile)
}
