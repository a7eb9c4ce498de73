// The Gateway is the protocol-facing dispatcher: it authenticates new
// connections, keeps the connection registry, authorizes each inbound
// event against current room membership, invokes the room/message
// services, and multicasts results to every live connection of the
// affected room's participants.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-chat-server/internal/auth"
	"github.com/tbourn/go-chat-server/internal/domain"
	"github.com/tbourn/go-chat-server/internal/services"
)

//
// Service contracts (context-aware)
//

// RoomService defines the room-store operations the gateway consumes.
// Implementations must be safe for concurrent use.
type RoomService interface {
	// Create validates the participant list and inserts the room plus its
	// full membership set atomically.
	Create(ctx context.Context, ownerID string, roomType domain.RoomType, name *string, participants []string) (*domain.RoomDetail, error)
	// Get loads a room with sanitized participants and recent messages,
	// enforcing that the requester is a member.
	Get(ctx context.Context, requesterID, roomID string) (*domain.RoomDetail, error)
	// ListForUser lists every room the user participates in, annotated
	// with its most recent message.
	ListForUser(ctx context.Context, userID string) ([]domain.RoomSummary, error)
	// Update renames a room and/or replaces its membership set atomically.
	Update(ctx context.Context, actorID, roomID string, name *string, participants *[]string) (*domain.RoomDetail, error)
	// Delete removes the room, its membership rows, and its messages.
	Delete(ctx context.Context, roomID string) error
}

// MessageService defines the message-store operations the gateway consumes.
// Implementations must be safe for concurrent use.
type MessageService interface {
	// Create appends a message and returns the room's fresh first page.
	Create(ctx context.Context, userID, roomID, text string) (*domain.MessagePage, error)
	// ListPage returns a filtered, paginated window over a room's messages.
	ListPage(ctx context.Context, roomID, filter string, offset, limit int) (*domain.MessagePage, error)
	// Get fetches one message so the gateway can resolve its room.
	Get(ctx context.Context, messageID string) (*domain.Message, error)
	// Update edits a message's text, creator-only.
	Update(ctx context.Context, userID, messageID, text string) (*domain.Message, error)
	// DeleteBatch removes messages, stopping at the first non-owned one.
	DeleteBatch(ctx context.Context, userID, roomID string, messageIDs []string) error
}

// Options tunes the transport behavior of the gateway.
type Options struct {
	// WriteWait bounds each wire write.
	WriteWait time.Duration
	// PongWait is how long a connection may stay silent before the read
	// deadline kills it; pings go out at 9/10 of it.
	PongWait time.Duration
	// MaxMessageSize caps inbound frames in bytes.
	MaxMessageSize int64
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
	// EventTimeout bounds the handling of one inbound event, store calls
	// and fan-out included.
	EventTimeout time.Duration
	// CheckOrigin optionally overrides the upgrader's origin policy.
	CheckOrigin func(r *http.Request) bool
}

func (o *Options) setDefaults() {
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 << 10
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.EventTimeout <= 0 {
		o.EventTimeout = 30 * time.Second
	}
}

func (o Options) pingPeriod() time.Duration {
	return o.PongWait * 9 / 10
}

// Gateway is the protocol state machine. Per connection the states are
// Unauthenticated -> Authenticated -> Closed: authentication happens once
// during the handshake, events are only dispatched for registered
// (authenticated) connections, and disconnect is terminal.
type Gateway struct {
	verifier auth.Verifier
	rooms    RoomService
	msgs     MessageService
	registry *Registry
	upgrader websocket.Upgrader
	opts     Options
	log      zerolog.Logger
}

// NewGateway wires a gateway and clears the connection registry, so stale
// mappings from a prior run never leak into this one.
func NewGateway(verifier auth.Verifier, rooms RoomService, msgs MessageService, opts Options, log zerolog.Logger) *Gateway {
	opts.setDefaults()
	gw := &Gateway{
		verifier: verifier,
		rooms:    rooms,
		msgs:     msgs,
		registry: NewRegistry(),
		opts:     opts,
		log:      log,
	}
	gw.registry.Clear()
	gw.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     opts.CheckOrigin,
	}
	return gw
}

// Registry exposes the connection registry, mainly for tests and health
// reporting.
func (g *Gateway) Registry() *Registry { return g.registry }

// Handle upgrades an HTTP request to a websocket session and drives the
// connection state machine. The credential token is taken from the
// Authorization header, falling back to a "token" query parameter for
// browser clients that cannot set headers on the handshake.
//
// Authentication failure emits an explicit exception event and forcibly
// closes the connection without registering it; it is never a silent drop.
func (g *Gateway) Handle(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
	}

	identity, err := g.verifier.Verify(token)
	if err != nil {
		g.log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("authentication failed")
		g.refuse(conn)
		return
	}

	connID := uuid.NewString()
	client := newClient(connID, identity.UserID, conn, g, g.log.With().
		Str("conn_id", connID).Str("user_id", identity.UserID).Logger())

	if err := g.registry.Register(identity.UserID, client); err != nil {
		client.log.Error().Err(err).Msg("connection registration failed")
		g.refuse(conn)
		return
	}
	wsConnections.Inc()
	client.log.Info().Msg("client connected")

	go client.writePump()

	// Initial event: the caller's room snapshot.
	ctx, cancel := context.WithTimeout(c.Request.Context(), g.opts.EventTimeout)
	rooms, err := g.rooms.ListForUser(ctx, identity.UserID)
	cancel()
	if err != nil {
		client.log.Error().Err(err).Msg("room snapshot failed")
		client.Send(EventException, "Error occurred while retrieving user rooms.")
	} else if err := client.Send(EventUserAllRooms, rooms); err != nil {
		client.log.Warn().Err(err).Msg("room snapshot delivery failed")
	}

	client.readPump()
}

// refuse notifies a not-yet-registered connection of an authentication
// error and closes it.
func (g *Gateway) refuse(conn *websocket.Conn) {
	frame, err := encodeEvent(EventException, "Authentication error")
	if err == nil {
		conn.SetWriteDeadline(time.Now().Add(g.opts.WriteWait))
		conn.WriteMessage(websocket.TextMessage, frame)
	}
	conn.Close()
}

// disconnect tears a connection down from any state: unregister, release
// the writer, Closed is terminal. Shutdown and a failing read pump can
// both reach here for the same client; only the first call accounts for
// the teardown.
func (g *Gateway) disconnect(c *Client) {
	g.registry.Unregister(c.id)
	if !c.close() {
		return
	}
	wsConnections.Dec()
	c.log.Info().Msg("client disconnected")
}

// Close drains every live connection. Called once during shutdown, after
// the HTTP listener has stopped accepting upgrades.
func (g *Gateway) Close() {
	for _, c := range g.registry.All() {
		if cl, ok := c.(*Client); ok {
			g.disconnect(cl)
		}
	}
}

// exceptionText maps each inbound event to the short, human-readable
// description surfaced on failure. Internal error kinds stay internal.
var exceptionText = map[string]string{
	EventCreateRoom:      "Error occurred while creating the room.",
	EventGetRoomDetails:  "Error occurred while fetching room details.",
	EventUpdateRoom:      "Error occurred while updating room details.",
	EventDeleteRoom:      "Error occurred while deleting the room.",
	EventSendMessage:     "Error occurred while sending the message.",
	EventFindAllMessages: "Error occurred while fetching messages.",
	EventUpdateMessage:   "Error occurred while updating the message.",
	EventDeleteMessage:   "Error occurred while deleting messages.",
}

// Dispatch routes one inbound event from an authenticated connection to
// its handler. Any error raised inside the handler is reported to the
// initiating connection only, as a single opaque exception event; it never
// reaches other participants.
func (g *Gateway) Dispatch(src Conn, userID string, env Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), g.opts.EventTimeout)
	defer cancel()

	var err error
	switch env.Event {
	case EventCreateRoom:
		err = g.handleCreateRoom(ctx, src, userID, env)
	case EventGetRoomDetails:
		err = g.handleGetRoomDetails(ctx, src, userID, env)
	case EventUpdateRoom:
		err = g.handleUpdateRoom(ctx, src, userID, env)
	case EventDeleteRoom:
		err = g.handleDeleteRoom(ctx, src, userID, env)
	case EventSendMessage:
		err = g.handleSendMessage(ctx, src, userID, env)
	case EventFindAllMessages:
		err = g.handleFindAllMessages(ctx, src, userID, env)
	case EventUpdateMessage:
		err = g.handleUpdateMessage(ctx, src, userID, env)
	case EventDeleteMessage:
		err = g.handleDeleteMessage(ctx, src, userID, env)
	default:
		err = fmt.Errorf("%w: unknown event %q", services.ErrValidation, env.Event)
	}

	if err != nil {
		wsEvents.WithLabelValues(env.Event, "error").Inc()
		g.log.Warn().
			Err(err).
			Str("event", env.Event).
			Str("user_id", userID).
			Str("conn_id", src.ID()).
			Msg("event failed")
		msg, ok := exceptionText[env.Event]
		if !ok {
			msg = "Unable to process the request."
		}
		if serr := src.Send(EventException, msg); serr != nil {
			g.log.Debug().Err(serr).Str("conn_id", src.ID()).Msg("exception delivery failed")
		}
		return
	}
	wsEvents.WithLabelValues(env.Event, "ok").Inc()
}

func (g *Gateway) handleCreateRoom(ctx context.Context, src Conn, userID string, env Envelope) error {
	var p CreateRoomPayload
	if err := DecodePayload(env.Data, &p); err != nil {
		return err
	}
	room, err := g.rooms.Create(ctx, userID, p.Type, p.Name, p.Participants)
	if err != nil {
		return err
	}
	g.notify(room.Participants, EventRoomCreated, room)
	return nil
}

func (g *Gateway) handleGetRoomDetails(ctx context.Context, src Conn, userID string, env Envelope) error {
	var p RoomFetchPayload
	if err := DecodePayload(env.Data, &p); err != nil {
		return err
	}
	room, err := g.rooms.Get(ctx, userID, p.RoomID)
	if err != nil {
		return err
	}
	return src.Send(EventRoomDetailsFetched, room)
}

func (g *Gateway) handleUpdateRoom(ctx context.Context, src Conn, userID string, env Envelope) error {
	var p UpdateRoomPayload
	if err := DecodePayload(env.Data, &p); err != nil {
		return err
	}
	room, err := g.rooms.Update(ctx, userID, p.RoomID, p.Name, p.Participants)
	if err != nil {
		return err
	}
	g.notify(room.Participants, EventRoomUpdated, room)
	return nil
}

func (g *Gateway) handleDeleteRoom(ctx context.Context, src Conn, userID string, env Envelope) error {
	var p RoomFetchPayload
	if err := DecodePayload(env.Data, &p); err != nil {
		return err
	}
	// Get doubles as the authorization check: only participants may delete.
	room, err := g.rooms.Get(ctx, userID, p.RoomID)
	if err != nil {
		return err
	}
	if err := g.rooms.Delete(ctx, p.RoomID); err != nil {
		return err
	}
	former := make([]domain.User, 0, len(room.Participants))
	for _, u := range room.Participants {
		if u.ID != userID {
			former = append(former, u)
		}
	}
	g.notify(former, EventRoomDeleted, gin.H{
		"message": fmt.Sprintf("Room with ID %s has been successfully deleted.", p.RoomID),
	})
	return nil
}

func (g *Gateway) handleSendMessage(ctx context.Context, src Conn, userID string, env Envelope) error {
	var p CreateMessagePayload
	if err := DecodePayload(env.Data, &p); err != nil {
		return err
	}
	// Membership check before the write.
	if _, err := g.rooms.Get(ctx, userID, p.RoomID); err != nil {
		return err
	}
	page, err := g.msgs.Create(ctx, userID, p.RoomID, p.Text)
	if err != nil {
		return err
	}
	// The audience is resolved again after the write; membership may have
	// changed since the pre-check.
	room, err := g.rooms.Get(ctx, userID, p.RoomID)
	if err != nil {
		return err
	}
	g.notify(room.Participants, EventMessageSent, page)
	return nil
}

func (g *Gateway) handleFindAllMessages(ctx context.Context, src Conn, userID string, env Envelope) error {
	var p FilterMessagesPayload
	if err := DecodePayload(env.Data, &p); err != nil {
		return err
	}
	// Only participants may list a room's messages.
	if _, err := g.rooms.Get(ctx, userID, p.RoomID); err != nil {
		return err
	}
	page, err := g.msgs.ListPage(ctx, p.RoomID, p.Filter, p.First, p.Rows)
	if err != nil {
		return err
	}
	return src.Send(EventAllMessages, page)
}

func (g *Gateway) handleUpdateMessage(ctx context.Context, src Conn, userID string, env Envelope) error {
	var p UpdateMessagePayload
	if err := DecodePayload(env.Data, &p); err != nil {
		return err
	}
	existing, err := g.msgs.Get(ctx, p.MessageID)
	if err != nil {
		return err
	}
	// The editor must still be a participant of the message's room at edit
	// time; the store itself only enforces the immutable creator.
	if _, err := g.rooms.Get(ctx, userID, existing.RoomID); err != nil {
		return err
	}
	if _, err := g.msgs.Update(ctx, userID, p.MessageID, p.Text); err != nil {
		return err
	}
	page, err := g.msgs.ListPage(ctx, existing.RoomID, "", 0, 0)
	if err != nil {
		return err
	}
	room, err := g.rooms.Get(ctx, userID, existing.RoomID)
	if err != nil {
		return err
	}
	g.notify(room.Participants, EventMessageUpdated, page)
	return nil
}

func (g *Gateway) handleDeleteMessage(ctx context.Context, src Conn, userID string, env Envelope) error {
	var p DeleteMessagePayload
	if err := DecodePayload(env.Data, &p); err != nil {
		return err
	}
	if _, err := g.rooms.Get(ctx, userID, p.RoomID); err != nil {
		return err
	}
	if err := g.msgs.DeleteBatch(ctx, userID, p.RoomID, p.MessageIDs); err != nil {
		return err
	}
	room, err := g.rooms.Get(ctx, userID, p.RoomID)
	if err != nil {
		return err
	}
	g.notify(room.Participants, EventMessageDeleted, gin.H{"message_ids": p.MessageIDs})
	return nil
}

// notify multicasts one result event to every live connection of every
// given participant: dispatch to all targets concurrently, wait for all,
// tolerate individual failure. A failed delivery is logged and counted but
// never aborts the group and never rolls back the triggering operation.
// There is no retry and no cancellation of an in-flight fan-out.
func (g *Gateway) notify(participants []domain.User, event string, payload any) {
	type outcome struct {
		connID string
		err    error
	}

	var targets []Conn
	for _, p := range participants {
		targets = append(targets, g.registry.ConnectionsForUser(p.ID)...)
	}
	if len(targets) == 0 {
		return
	}

	results := make([]outcome, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t Conn) {
			defer wg.Done()
			results[i] = outcome{connID: t.ID(), err: t.Send(event, payload)}
		}(i, t)
	}
	wg.Wait()

	for _, r := range results {
		if r.err != nil {
			wsFanout.WithLabelValues(event, "error").Inc()
			g.log.Warn().
				Err(r.err).
				Str("event", event).
				Str("conn_id", r.connID).
				Msg("fan-out delivery failed")
			continue
		}
		wsFanout.WithLabelValues(event, "ok").Inc()
	}
}
