package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mossy-p/roomdrop/internal/errs"
)

func frame(t *testing.T, typ EventType, payload any) []byte {
	t.Helper()
	env, err := NewEvent(typ, payload)
	require.NoError(t, err)
	data, err := env.Encode()
	require.NoError(t, err)
	return data
}

func TestDecodeInbound_UnknownType(t *testing.T) {
	_, _, err := DecodeInbound([]byte(`{"type":"telepathy","payload":{}}`))
	require.ErrorIs(t, err, errs.ErrUnknownEvent)
}

func TestDecodeInbound_Malformed(t *testing.T) {
	_, _, err := DecodeInbound([]byte(`not json`))
	require.ErrorIs(t, err, errs.ErrInvalidEvent)

	// Recognised type, payload that cannot unmarshal.
	_, _, err = DecodeInbound([]byte(`{"type":"send_text","payload":[1,2]}`))
	require.ErrorIs(t, err, errs.ErrInvalidEvent)

	// Recognised type, missing required payload.
	_, _, err = DecodeInbound([]byte(`{"type":"join_room"}`))
	require.ErrorIs(t, err, errs.ErrInvalidEvent)
}

func TestDecodeInbound_TypedPayloads(t *testing.T) {
	typ, payload, err := DecodeInbound(frame(t, EventJoinRoom, JoinRoomPayload{RoomID: "r1", DeviceID: "d1"}))
	require.NoError(t, err)
	require.Equal(t, EventJoinRoom, typ)
	join := payload.(*JoinRoomPayload)
	require.Equal(t, "r1", join.RoomID)
	require.Equal(t, "d1", join.DeviceID)

	typ, payload, err = DecodeInbound(frame(t, EventOffer, OfferPayload{
		RecipientID: "d2",
		Offer:       json.RawMessage(`{"sdp":"v=0"}`),
	}))
	require.NoError(t, err)
	require.Equal(t, EventOffer, typ)
	offer := payload.(*OfferPayload)
	require.Equal(t, "d2", offer.RecipientID)
	require.JSONEq(t, `{"sdp":"v=0"}`, string(offer.Offer))
}

func TestDecodeInbound_PayloadlessEvents(t *testing.T) {
	for _, typ := range []EventType{EventClearTexts, EventCloseRoom, EventMatchStop, EventMatchSkip, EventMatchEnd} {
		got, payload, err := DecodeInbound([]byte(`{"type":"` + string(typ) + `"}`))
		require.NoError(t, err, string(typ))
		require.Equal(t, typ, got)
		require.Nil(t, payload)
	}

	// start_search may omit preferences entirely.
	_, payload, err := DecodeInbound([]byte(`{"type":"random:start_search"}`))
	require.NoError(t, err)
	require.IsType(t, &MatchStartPayload{}, payload)
}

func TestMatchPreferences_Compatible(t *testing.T) {
	wildcard := MatchPreferences{}
	music := MatchPreferences{Topic: "music"}
	games := MatchPreferences{Topic: "games"}

	require.True(t, wildcard.Compatible(music))
	require.True(t, music.Compatible(wildcard))
	require.True(t, music.Compatible(music))
	require.False(t, music.Compatible(games))
}

func TestInitiatorOf(t *testing.T) {
	require.Equal(t, "b", InitiatorOf("a", "b"))
	require.Equal(t, "b", InitiatorOf("b", "a"))
	require.Equal(t, "z", InitiatorOf("z", "z"))
}

func TestUnknownEventIsDistinctFromInvalid(t *testing.T) {
	_, _, unknownErr := DecodeInbound([]byte(`{"type":"nope"}`))
	require.False(t, errors.Is(unknownErr, errs.ErrInvalidEvent))
	require.True(t, errors.Is(unknownErr, errs.ErrUnknownEvent))
}
