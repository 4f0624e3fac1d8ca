package models

import (
	"encoding/json"
	"fmt"

	"github.com/mossy-p/roomdrop/internal/errs"
)

// EventType identifies one message kind in the closed transport vocabulary.
// The set is exhaustive: decoding anything outside it fails with
// errs.ErrUnknownEvent instead of being silently dropped.
type EventType string

// Client-to-server events.
const (
	EventJoinRoom   EventType = "join_room"
	EventSendText   EventType = "send_text"
	EventDeleteText EventType = "delete_text"
	EventClearTexts EventType = "clear_texts"
	EventCloseRoom  EventType = "close_room"

	EventCallRequest EventType = "call:request"
	EventCallAccept  EventType = "call:accept"
	EventCallReject  EventType = "call:reject"
	EventCallEnd     EventType = "call:end"

	EventOffer        EventType = "webrtc:offer"
	EventAnswer       EventType = "webrtc:answer"
	EventIceCandidate EventType = "webrtc:ice-candidate"

	EventMatchStart EventType = "random:start_search"
	EventMatchStop  EventType = "random:stop_search"
	EventMatchSkip  EventType = "random:skip"
	EventMatchEnd   EventType = "random:end_chat"
)

// Server-to-client events.
const (
	EventRoomState    EventType = "room_state"
	EventUserCount    EventType = "user_count"
	EventTextShared   EventType = "text_shared"
	EventTextDeleted  EventType = "text_deleted"
	EventTextsCleared EventType = "texts_cleared"
	EventFileShared   EventType = "file_shared"
	EventFileDeleted  EventType = "file_deleted"
	EventRoomClosed   EventType = "room_closed"

	EventCallIncoming EventType = "call:incoming"
	EventCallAccepted EventType = "call:accepted"
	EventCallRejected EventType = "call:rejected"
	EventCallEnded    EventType = "call:ended"
	EventCallError    EventType = "call:error"

	EventMatchSearching EventType = "random:searching"
	EventMatched        EventType = "random:matched"
	EventChatEnded      EventType = "random:chat_ended"

	EventError EventType = "error"
)

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent wraps a typed payload into an Envelope.
func NewEvent(t EventType, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: t}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Payload: data}, nil
}

// MustEvent is NewEvent for payloads that cannot fail to marshal.
func MustEvent(t EventType, payload any) Envelope {
	env, err := NewEvent(t, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Encode serialises the envelope for the transport.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Client-to-server payloads.
type (
	JoinRoomPayload struct {
		RoomID   string `json:"roomId"`
		DeviceID string `json:"deviceId"`
		GuestID  string `json:"guestId,omitempty"`
	}

	SendTextPayload struct {
		Content string `json:"content"`
	}

	DeleteTextPayload struct {
		ID string `json:"id"`
	}

	CallRequestPayload struct {
		RecipientID string `json:"recipientId"`
	}

	CallAcceptPayload struct {
		CallerID string `json:"callerId"`
	}

	CallRejectPayload struct {
		CallerID string `json:"callerId"`
	}

	CallEndPayload struct {
		PeerID string `json:"peerId"`
		Reason string `json:"reason,omitempty"`
	}

	OfferPayload struct {
		RecipientID string          `json:"recipientId,omitempty"`
		SenderID    string          `json:"senderId,omitempty"`
		Offer       json.RawMessage `json:"offer"`
	}

	AnswerPayload struct {
		RecipientID string          `json:"recipientId,omitempty"`
		SenderID    string          `json:"senderId,omitempty"`
		Answer      json.RawMessage `json:"answer"`
	}

	IceCandidatePayload struct {
		RecipientID string          `json:"recipientId,omitempty"`
		SenderID    string          `json:"senderId,omitempty"`
		Candidate   json.RawMessage `json:"candidate"`
	}

	MatchStartPayload struct {
		Preferences MatchPreferences `json:"prefs"`
	}
)

// MatchPreferences narrows who a searching device may be paired with.
// An empty Topic matches any other device.
type MatchPreferences struct {
	Topic string `json:"topic,omitempty"`
}

// Compatible reports whether two preference sets allow a pairing.
func (p MatchPreferences) Compatible(other MatchPreferences) bool {
	return p.Topic == "" || other.Topic == "" || p.Topic == other.Topic
}

// Server-to-client payloads.
type (
	RoomStatePayload struct {
		RoomID    string      `json:"roomId"`
		Texts     []TextEntry `json:"texts"`
		Files     []FileEntry `json:"files"`
		UserCount int         `json:"userCount"`
	}

	UserCountPayload struct {
		Count int `json:"count"`
	}

	TextDeletedPayload struct {
		ID string `json:"id"`
	}

	FileDeletedPayload struct {
		ID     string `json:"id"`
		Reason string `json:"reason"`
	}

	RoomClosedPayload struct {
		RoomID string `json:"roomId"`
	}

	CallIncomingPayload struct {
		CallerID   string `json:"callerId"`
		CallerName string `json:"callerName,omitempty"`
	}

	CallAcceptedPayload struct {
		PeerID      string `json:"peerId"`
		IsInitiator bool   `json:"isInitiator"`
	}

	CallRejectedPayload struct {
		PeerID string `json:"peerId"`
	}

	CallEndedPayload struct {
		PeerID string `json:"peerId"`
		Reason string `json:"reason"`
	}

	CallErrorPayload struct {
		Reason string `json:"reason"`
	}

	SearchingPayload struct {
		Count int `json:"count"`
	}

	MatchedPayload struct {
		PartnerID   string `json:"partnerId"`
		RoomID      string `json:"roomId"`
		IsInitiator bool   `json:"isInitiator"`
	}

	ChatEndedPayload struct {
		Reason string `json:"reason"`
	}

	ErrorPayload struct {
		Message string `json:"message"`
	}
)

// DecodeInbound parses a client frame into its typed payload. The switch is
// the single dispatch point for the inbound vocabulary; unknown types are a
// distinct error, malformed payloads another.
func DecodeInbound(data []byte) (EventType, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", errs.ErrInvalidEvent, err)
	}

	decode := func(dst any) (any, error) {
		if len(env.Payload) == 0 {
			return nil, fmt.Errorf("%w: %s requires a payload", errs.ErrInvalidEvent, env.Type)
		}
		if err := json.Unmarshal(env.Payload, dst); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errs.ErrInvalidEvent, env.Type, err)
		}
		return dst, nil
	}

	switch env.Type {
	case EventJoinRoom:
		p, err := decode(&JoinRoomPayload{})
		return env.Type, p, err
	case EventSendText:
		p, err := decode(&SendTextPayload{})
		return env.Type, p, err
	case EventDeleteText:
		p, err := decode(&DeleteTextPayload{})
		return env.Type, p, err
	case EventClearTexts, EventCloseRoom, EventMatchStop, EventMatchSkip, EventMatchEnd:
		return env.Type, nil, nil
	case EventCallRequest:
		p, err := decode(&CallRequestPayload{})
		return env.Type, p, err
	case EventCallAccept:
		p, err := decode(&CallAcceptPayload{})
		return env.Type, p, err
	case EventCallReject:
		p, err := decode(&CallRejectPayload{})
		return env.Type, p, err
	case EventCallEnd:
		p, err := decode(&CallEndPayload{})
		return env.Type, p, err
	case EventOffer:
		p, err := decode(&OfferPayload{})
		return env.Type, p, err
	case EventAnswer:
		p, err := decode(&AnswerPayload{})
		return env.Type, p, err
	case EventIceCandidate:
		p, err := decode(&IceCandidatePayload{})
		return env.Type, p, err
	case EventMatchStart:
		if len(env.Payload) == 0 {
			return env.Type, &MatchStartPayload{}, nil
		}
		p, err := decode(&MatchStartPayload{})
		return env.Type, p, err
	default:
		return env.Type, nil, fmt.Errorf("%w: %q", errs.ErrUnknownEvent, env.Type)
	}
}
