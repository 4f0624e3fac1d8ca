package negotiate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mossy-p/roomdrop/internal/errs"
)

type delivered struct {
	recipient string
	candidate string
}

func recordingSink(out *[]delivered) Sink {
	return func(recipientID string, candidate json.RawMessage) {
		*out = append(*out, delivered{recipient: recipientID, candidate: string(candidate)})
	}
}

type trackedMedia struct {
	released int
}

func (m *trackedMedia) Release() error {
	m.released++
	return nil
}

func TestContext_QueuesCandidatesUntilAnswer(t *testing.T) {
	var out []delivered
	c := NewContext(recordingSink(&out), nil)

	require.NoError(t, c.SetOffer(json.RawMessage(`{"sdp":"offer"}`)))
	require.NoError(t, c.AddCandidate("d2", json.RawMessage(`"cand1"`)))
	require.NoError(t, c.AddCandidate("d1", json.RawMessage(`"cand2"`)))
	require.NoError(t, c.AddCandidate("d2", json.RawMessage(`"cand3"`)))
	require.Empty(t, out, "nothing may move before the answer")

	require.NoError(t, c.SetAnswer(json.RawMessage(`{"sdp":"answer"}`)))
	require.Equal(t, []delivered{
		{"d2", `"cand1"`},
		{"d1", `"cand2"`},
		{"d2", `"cand3"`},
	}, out, "queued candidates flush in arrival order")

	// Later candidates pass straight through.
	require.NoError(t, c.AddCandidate("d1", json.RawMessage(`"cand4"`)))
	require.Len(t, out, 4)
	require.Equal(t, `"cand4"`, out[3].candidate)
}

func TestContext_QueueFlushesExactlyOnce(t *testing.T) {
	var out []delivered
	c := NewContext(recordingSink(&out), nil)

	require.NoError(t, c.AddCandidate("d2", json.RawMessage(`"early"`)))
	require.NoError(t, c.SetAnswer(json.RawMessage(`{}`)))
	require.Len(t, out, 1)

	// A second answer (duplicate delivery) must not replay the queue.
	require.NoError(t, c.SetAnswer(json.RawMessage(`{}`)))
	require.Len(t, out, 1)
}

func TestContext_FreshQueuePerContext(t *testing.T) {
	var out []delivered
	first := NewContext(recordingSink(&out), nil)
	require.NoError(t, first.AddCandidate("d2", json.RawMessage(`"stale"`)))
	require.NoError(t, first.Cleanup())

	// Renegotiation allocates a new context; the old queue is gone.
	second := NewContext(recordingSink(&out), nil)
	require.NoError(t, second.SetAnswer(json.RawMessage(`{}`)))
	require.Empty(t, out)
}

func TestContext_Complete(t *testing.T) {
	c := NewContext(recordingSink(new([]delivered)), nil)
	require.False(t, c.Complete())
	require.NoError(t, c.SetOffer(json.RawMessage(`{}`)))
	require.False(t, c.Complete())
	require.NoError(t, c.SetAnswer(json.RawMessage(`{}`)))
	require.True(t, c.Complete())
}

func TestContext_MediaToggles(t *testing.T) {
	c := NewContext(recordingSink(new([]delivered)), nil)
	require.False(t, c.ToggleAudio(), "audio starts enabled, toggle disables")
	require.True(t, c.ToggleAudio())
	require.False(t, c.ToggleVideo())
	require.True(t, c.ToggleVideo())
}

func TestContext_CleanupReleasesMediaOnce(t *testing.T) {
	media := &trackedMedia{}
	c := NewContext(recordingSink(new([]delivered)), media)

	require.NoError(t, c.Cleanup())
	require.NoError(t, c.Cleanup())
	require.Equal(t, 1, media.released, "media handles are host-exclusive; exactly one release")

	require.ErrorIs(t, c.SetOffer(json.RawMessage(`{}`)), errs.ErrNegotiationClosed)
	require.ErrorIs(t, c.SetAnswer(json.RawMessage(`{}`)), errs.ErrNegotiationClosed)
	require.ErrorIs(t, c.AddCandidate("d2", json.RawMessage(`{}`)), errs.ErrNegotiationClosed)
}
