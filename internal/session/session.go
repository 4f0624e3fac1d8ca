// Package session binds one websocket connection to the coordination
// engine. Each connection gets its own explicitly constructed Session;
// nothing in here is process-global, so connections cannot bleed state into
// each other and tests wire components directly.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mossy-p/roomdrop/internal/blob"
	"github.com/mossy-p/roomdrop/internal/call"
	"github.com/mossy-p/roomdrop/internal/content"
	"github.com/mossy-p/roomdrop/internal/errs"
	"github.com/mossy-p/roomdrop/internal/identity"
	"github.com/mossy-p/roomdrop/internal/match"
	"github.com/mossy-p/roomdrop/internal/models"
	"github.com/mossy-p/roomdrop/internal/presence"
	"github.com/mossy-p/roomdrop/internal/relay"
)

const (
	readWait      = 60 * time.Second
	writeWait     = 10 * time.Second
	pingInterval  = 54 * time.Second
	sendQueueSize = 256
)

// Deps carries the engine components a session dispatches into.
type Deps struct {
	Presence *presence.Failover
	Content  content.Store
	Relay    *relay.Relay
	Calls    *call.Manager
	Match    *match.Queue
	Blobs    blob.Storage
	Logger   *zap.Logger
}

// Session is the per-connection handler: it owns the read and write pumps
// and routes every inbound event through the closed vocabulary.
type Session struct {
	connID    string
	deviceID  string
	guestName string
	roomID    string

	conn *websocket.Conn
	send chan []byte
	deps Deps
}

// New builds a session for an upgraded connection. deviceID may be empty
// for a first-contact client; one is minted and used for the whole session.
func New(conn *websocket.Conn, deviceID, guestName string, deps Deps) *Session {
	if deviceID == "" {
		deviceID = identity.NewDeviceID()
	}
	if guestName == "" {
		guestName = identity.NewGuestName()
	}
	return &Session{
		connID:    identity.NewConnectionID(),
		deviceID:  deviceID,
		guestName: guestName,
		conn:      conn,
		send:      make(chan []byte, sendQueueSize),
		deps:      deps,
	}
}

// ConnID implements relay.Sender.
func (s *Session) ConnID() string { return s.connID }

// DeviceID returns the stable device identifier bound to this connection.
func (s *Session) DeviceID() string { return s.deviceID }

// Enqueue implements relay.Sender: non-blocking, FIFO per connection.
func (s *Session) Enqueue(data []byte) bool {
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// Run drives the connection until it closes. It blocks in the read pump;
// the write pump runs alongside.
func (s *Session) Run(ctx context.Context) {
	go s.writePump()
	s.readPump(ctx)
}

func (s *Session) readPump(ctx context.Context) {
	defer s.teardown(ctx)

	s.conn.SetReadDeadline(time.Now().Add(readWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.deps.Logger.Warn("websocket read", zap.String("conn", s.connID), zap.Error(err))
			}
			return
		}
		s.dispatch(ctx, data)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown is the implicit leave: a dropped transport removes the
// connection from presence and routing, and once the device's last
// connection is gone it lets calls and matchmaking react.
func (s *Session) teardown(context.Context) {
	// The request context dies with the transport; cleanup gets its own.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.deps.Relay.Detach(s.connID)
	close(s.send)

	if s.roomID != "" {
		count := s.deps.Presence.Leave(ctx, s.roomID, s.deviceID, s.connID)
		s.deps.Relay.BroadcastToRoom(s.roomID, models.MustEvent(models.EventUserCount, models.UserCountPayload{Count: count}))
	}

	// Other tabs keep the device alive; only the last connection going
	// away counts as the device dropping.
	if !s.deps.Relay.DeviceOnline(s.deviceID) {
		s.deps.Calls.ConnectionLost(s.deviceID)
		s.deps.Match.ConnectionLost(s.deviceID)
	}

	s.deps.Logger.Info("connection closed",
		zap.String("conn", s.connID),
		zap.String("device", s.deviceID),
		zap.String("room", s.roomID),
	)
}

// dispatch decodes one frame and routes it through the exhaustive event
// switch. Unknown kinds and malformed payloads come back as scoped error
// events; they never affect other rooms or calls.
func (s *Session) dispatch(ctx context.Context, data []byte) {
	eventType, payload, err := models.DecodeInbound(data)
	if err != nil {
		if errors.Is(err, errs.ErrUnknownEvent) {
			s.sendError("unknown event type: " + string(eventType))
		} else {
			s.sendError("invalid payload for " + string(eventType))
		}
		return
	}

	switch eventType {
	case models.EventJoinRoom:
		s.handleJoinRoom(ctx, payload.(*models.JoinRoomPayload))
	case models.EventSendText:
		s.handleSendText(ctx, payload.(*models.SendTextPayload))
	case models.EventDeleteText:
		s.handleDeleteText(ctx, payload.(*models.DeleteTextPayload))
	case models.EventClearTexts:
		s.handleClearTexts(ctx)
	case models.EventCloseRoom:
		s.handleCloseRoom(ctx)
	case models.EventCallRequest:
		p := payload.(*models.CallRequestPayload)
		_ = s.deps.Calls.Request(s.deviceID, s.guestName, p.RecipientID)
	case models.EventCallAccept:
		p := payload.(*models.CallAcceptPayload)
		_ = s.deps.Calls.Accept(s.deviceID, p.CallerID)
	case models.EventCallReject:
		p := payload.(*models.CallRejectPayload)
		_ = s.deps.Calls.Reject(s.deviceID, p.CallerID)
	case models.EventCallEnd:
		p := payload.(*models.CallEndPayload)
		s.deps.Calls.End(s.deviceID, p.Reason)
	case models.EventOffer:
		p := payload.(*models.OfferPayload)
		s.deps.Calls.HandleOffer(s.deviceID, p.RecipientID, p.Offer)
	case models.EventAnswer:
		p := payload.(*models.AnswerPayload)
		s.deps.Calls.HandleAnswer(s.deviceID, p.RecipientID, p.Answer)
	case models.EventIceCandidate:
		p := payload.(*models.IceCandidatePayload)
		s.deps.Calls.HandleCandidate(s.deviceID, p.RecipientID, p.Candidate)
	case models.EventMatchStart:
		p := payload.(*models.MatchStartPayload)
		s.deps.Match.Enqueue(s.deviceID, p.Preferences)
	case models.EventMatchStop:
		_ = s.deps.Match.Dequeue(s.deviceID)
	case models.EventMatchSkip:
		s.deps.Match.Skip(s.deviceID)
	case models.EventMatchEnd:
		s.deps.Match.EndChat(s.deviceID)
	default:
		// DecodeInbound already rejected everything outside the vocabulary.
		s.sendError("unhandled event type: " + string(eventType))
	}
}

func (s *Session) handleJoinRoom(ctx context.Context, p *models.JoinRoomPayload) {
	if p.RoomID == "" {
		s.sendError("join_room: roomId is required")
		return
	}
	if p.DeviceID != "" && p.DeviceID != s.deviceID {
		s.sendError("join_room: deviceId does not match this connection")
		return
	}

	// A connection belongs to exactly one room; switching rooms leaves the
	// old one first.
	if s.roomID != "" && s.roomID != p.RoomID {
		s.deps.Relay.Detach(s.connID)
		count := s.deps.Presence.Leave(ctx, s.roomID, s.deviceID, s.connID)
		s.deps.Relay.BroadcastToRoom(s.roomID, models.MustEvent(models.EventUserCount, models.UserCountPayload{Count: count}))
	}

	snap, err := s.deps.Content.GetOrCreate(ctx, p.RoomID)
	if err != nil {
		s.deps.Logger.Warn("join: load room", zap.String("room", p.RoomID), zap.Error(err))
		s.sendError("room unavailable")
		return
	}

	s.roomID = p.RoomID
	count := s.deps.Presence.Join(ctx, p.RoomID, s.deviceID, s.connID)
	s.deps.Relay.Attach(s, s.deviceID, p.RoomID)

	// Rejoining mid-call cancels the disconnect grace window.
	s.deps.Calls.Reconnected(s.deviceID)

	s.sendEvent(models.MustEvent(models.EventRoomState, models.RoomStatePayload{
		RoomID:    p.RoomID,
		Texts:     snap.Texts,
		Files:     snap.Files,
		UserCount: count,
	}))
	s.deps.Relay.BroadcastToRoomExcept(p.RoomID, s.connID, models.MustEvent(models.EventUserCount, models.UserCountPayload{Count: count}))

	s.deps.Logger.Info("joined room",
		zap.String("room", p.RoomID),
		zap.String("device", s.deviceID),
		zap.Int("userCount", count),
	)
}

func (s *Session) handleSendText(ctx context.Context, p *models.SendTextPayload) {
	if s.roomID == "" {
		s.sendError("send_text: join a room first")
		return
	}
	if p.Content == "" {
		s.sendError("send_text: content is required")
		return
	}
	entry := models.TextEntry{
		ID:        identity.NewEntryID(),
		Content:   p.Content,
		SenderID:  s.deviceID,
		Timestamp: time.Now().UTC(),
	}
	if err := s.deps.Content.AppendText(ctx, s.roomID, entry); err != nil {
		s.deps.Logger.Warn("append text", zap.String("room", s.roomID), zap.Error(err))
		s.sendError("could not store text")
		return
	}
	s.deps.Relay.BroadcastToRoom(s.roomID, models.MustEvent(models.EventTextShared, entry))
}

func (s *Session) handleDeleteText(ctx context.Context, p *models.DeleteTextPayload) {
	if s.roomID == "" {
		s.sendError("delete_text: join a room first")
		return
	}
	if err := s.deps.Content.RemoveText(ctx, s.roomID, p.ID); err != nil {
		if errors.Is(err, errs.ErrTextNotFound) {
			s.sendError("text not found")
		} else {
			s.deps.Logger.Warn("delete text", zap.String("room", s.roomID), zap.Error(err))
			s.sendError("could not delete text")
		}
		return
	}
	s.deps.Relay.BroadcastToRoom(s.roomID, models.MustEvent(models.EventTextDeleted, models.TextDeletedPayload{ID: p.ID}))
}

func (s *Session) handleClearTexts(ctx context.Context) {
	if s.roomID == "" {
		s.sendError("clear_texts: join a room first")
		return
	}
	if err := s.deps.Content.ClearTexts(ctx, s.roomID); err != nil {
		s.deps.Logger.Warn("clear texts", zap.String("room", s.roomID), zap.Error(err))
		s.sendError("could not clear texts")
		return
	}
	s.deps.Relay.BroadcastToRoom(s.roomID, models.MustEvent(models.EventTextsCleared, nil))
}

func (s *Session) handleCloseRoom(ctx context.Context) {
	if s.roomID == "" {
		s.sendError("close_room: join a room first")
		return
	}
	snap, err := s.deps.Content.RemoveRoom(ctx, s.roomID)
	if err != nil && !errors.Is(err, errs.ErrRoomNotFound) {
		s.deps.Logger.Warn("close room", zap.String("room", s.roomID), zap.Error(err))
		s.sendError("could not close room")
		return
	}
	for _, f := range snap.Files {
		if err := s.deps.Blobs.Delete(ctx, f.ID); err != nil {
			s.deps.Logger.Warn("close room: delete blob", zap.String("file", f.ID), zap.Error(err))
		}
	}
	s.deps.Relay.BroadcastToRoom(s.roomID, models.MustEvent(models.EventRoomClosed, models.RoomClosedPayload{RoomID: s.roomID}))
	s.deps.Logger.Info("room closed", zap.String("room", s.roomID), zap.String("by", s.deviceID))
}

func (s *Session) sendEvent(env models.Envelope) {
	data, err := env.Encode()
	if err != nil {
		s.deps.Logger.Error("encode event", zap.String("type", string(env.Type)), zap.Error(err))
		return
	}
	if !s.Enqueue(data) {
		s.deps.Logger.Warn("send buffer full", zap.String("conn", s.connID))
	}
}

func (s *Session) sendError(message string) {
	s.sendEvent(models.MustEvent(models.EventError, models.ErrorPayload{Message: message}))
}
