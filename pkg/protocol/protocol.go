// Package protocol implements the client-facing side of C7: parsing
// NIP-01 frames off the wire, dispatching them to a Handler, and
// framing responses back out. Subscription bookkeeping lives in
// pkg/registry, not here.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/paul/glienicke/pkg/event"
	"github.com/paul/glienicke/pkg/transport/ws"
)

// MessageType represents the type of Nostr protocol message.
type MessageType string

const (
	MessageTypeEvent  MessageType = "EVENT"
	MessageTypeReq    MessageType = "REQ"
	MessageTypeClose  MessageType = "CLOSE"
	MessageTypeEOSE   MessageType = "EOSE"   // end of stored events
	MessageTypeOK     MessageType = "OK"     // command result
	MessageTypeNotice MessageType = "NOTICE" // human-readable message
	MessageTypeCount  MessageType = "COUNT"  // NIP-45 event counting
	MessageTypeClosed MessageType = "CLOSED" // NIP-45 count rejection
)

// Handler processes Nostr protocol messages for one client connection.
type Handler interface {
	HandleEvent(ctx context.Context, c *Client, evt *event.Event) error
	HandleReq(ctx context.Context, c *Client, subID string, filters []*event.Filter) error
	HandleClose(ctx context.Context, c *Client, subID string) error
	HandleCount(ctx context.Context, c *Client, countID string, filters []*event.Filter) error
}

// Client represents a single WebSocket client connection. It owns
// framing and the outbound send queue; it knows nothing about
// subscription state, which the Handler tracks via pkg/registry.
type Client struct {
	conn      *ws.Conn
	handler   Handler
	sendCh    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewClient wraps an upgraded connection for protocol dispatch.
func NewClient(conn *ws.Conn, handler Handler) *Client {
	log.Printf("new connection from %s", conn.RemoteAddr())
	return &Client{
		conn:    conn,
		handler: handler,
		sendCh:  make(chan []byte, 256),
		closeCh: make(chan struct{}),
	}
}

// Start runs the read and write pumps until the connection closes.
// It blocks until both have returned.
func (c *Client) Start(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		c.readPump(ctx)
	}()

	go func() {
		defer wg.Done()
		c.writePump(ctx)
	}()

	wg.Wait()
}

func (c *Client) readPump(ctx context.Context) {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		default:
		}

		message, err := c.conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedClose(err) {
				log.Printf("websocket read error: %v", err)
			}
			return
		}

		if err := c.handleMessage(ctx, message); err != nil {
			log.Printf("error handling message: %v", err)
			c.SendNotice(fmt.Sprintf("error: %v", err))
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		case message := <-c.sendCh:
			if err := c.conn.WriteMessage(message); err != nil {
				log.Printf("websocket write error: %v", err)
				return
			}
		}
	}
}

func (c *Client) handleMessage(ctx context.Context, message []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(message, &raw); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("empty message")
	}

	var msgType string
	if err := json.Unmarshal(raw[0], &msgType); err != nil {
		return fmt.Errorf("invalid message type: %w", err)
	}

	switch MessageType(msgType) {
	case MessageTypeEvent:
		return c.handleEventMessage(ctx, raw)
	case MessageTypeReq:
		return c.handleReqMessage(ctx, raw)
	case MessageTypeClose:
		return c.handleCloseMessage(ctx, raw)
	case MessageTypeCount:
		return c.handleCountMessage(ctx, raw)
	default:
		return fmt.Errorf("unknown message type: %s", msgType)
	}
}

func (c *Client) handleEventMessage(ctx context.Context, raw []json.RawMessage) error {
	if len(raw) != 2 {
		return fmt.Errorf("EVENT message must have 2 elements")
	}

	var evt event.Event
	if err := json.Unmarshal(raw[1], &evt); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	if verr := evt.Validate(); verr != nil {
		c.SendOK(evt.ID, false, fmt.Sprintf("invalid: %v", verr))
		return nil
	}

	if err := c.handler.HandleEvent(ctx, c, &evt); err != nil {
		return err
	}

	return nil
}

func (c *Client) handleReqMessage(ctx context.Context, raw []json.RawMessage) error {
	if len(raw) < 2 {
		return fmt.Errorf("REQ message must have at least 2 elements")
	}

	var subID string
	if err := json.Unmarshal(raw[1], &subID); err != nil {
		return fmt.Errorf("invalid subscription ID: %w", err)
	}
	if subID == "" {
		// A client is allowed to omit the subscription id; mint one so
		// the registry still has a key to file the subscription under.
		subID = uuid.NewString()
	}

	var filters []*event.Filter
	for i := 2; i < len(raw); i++ {
		var filter event.Filter
		if err := json.Unmarshal(raw[i], &filter); err != nil {
			return fmt.Errorf("invalid filter: %w", err)
		}
		filters = append(filters, &filter)
	}

	return c.handler.HandleReq(ctx, c, subID, filters)
}

func (c *Client) handleCloseMessage(ctx context.Context, raw []json.RawMessage) error {
	if len(raw) != 2 {
		return fmt.Errorf("CLOSE message must have 2 elements")
	}

	var subID string
	if err := json.Unmarshal(raw[1], &subID); err != nil {
		return fmt.Errorf("invalid subscription ID: %w", err)
	}

	return c.handler.HandleClose(ctx, c, subID)
}

func (c *Client) handleCountMessage(ctx context.Context, raw []json.RawMessage) error {
	if len(raw) < 3 {
		return fmt.Errorf("COUNT message must have at least 3 elements")
	}

	var countID string
	if err := json.Unmarshal(raw[1], &countID); err != nil {
		return fmt.Errorf("invalid count ID: %w", err)
	}

	var filters []*event.Filter
	for i := 2; i < len(raw); i++ {
		var filter event.Filter
		if err := json.Unmarshal(raw[i], &filter); err != nil {
			return fmt.Errorf("invalid filter: %w", err)
		}
		filters = append(filters, &filter)
	}

	return c.handler.HandleCount(ctx, c, countID, filters)
}

// SendEvent sends an event to the client for a subscription. This is
// the method pkg/registry calls on the Subscriber interface.
func (c *Client) SendEvent(subID string, evt *event.Event) error {
	return c.enqueue([]interface{}{MessageTypeEvent, subID, evt})
}

// SendEOSE sends an end-of-stored-events message.
func (c *Client) SendEOSE(subID string) error {
	return c.enqueue([]interface{}{MessageTypeEOSE, subID})
}

// SendOK sends an OK message in response to an EVENT.
func (c *Client) SendOK(eventID string, accepted bool, message string) error {
	return c.enqueue([]interface{}{MessageTypeOK, eventID, accepted, message})
}

// SendNotice sends a human-readable notice message.
func (c *Client) SendNotice(message string) error {
	return c.enqueue([]interface{}{MessageTypeNotice, message})
}

// SendCount sends a COUNT response to the client (NIP-45).
func (c *Client) SendCount(countID string, count int, approximate bool) error {
	response := map[string]interface{}{"count": count}
	if approximate {
		response["approximate"] = true
	}
	return c.enqueue([]interface{}{MessageTypeCount, countID, response})
}

// SendClosed sends a CLOSED message to the client (NIP-45).
func (c *Client) SendClosed(countID string, reason string) error {
	return c.enqueue([]interface{}{MessageTypeClosed, countID, reason})
}

func (c *Client) enqueue(msg []interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case c.sendCh <- data:
		return nil
	case <-c.closeCh:
		return fmt.Errorf("client closed")
	}
}

// Close closes the client connection. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.conn.Close()
	})
}

// RemoteAddr returns the remote address of the client.
func (c *Client) RemoteAddr() string {
	return c.conn.RemoteAddr()
}
