// Package negotiate tracks the offer/answer/candidate exchange for one call
// attempt. The engine relays session descriptions opaquely; what it owns is
// the ordering discipline: no candidate moves before the descriptions exist.
package negotiate

import (
	"encoding/json"
	"sync"

	"github.com/mossy-p/roomdrop/internal/errs"
)

// Sink forwards one candidate to its recipient device, in call order.
type Sink func(recipientID string, candidate json.RawMessage)

// Media is a host-exclusive local media acquisition. Failing to release it
// leaks a device handle, not just memory.
type Media interface {
	Release() error
}

// MediaRequester acquires local media when a call enters connecting.
type MediaRequester func() (Media, error)

// NopMedia satisfies Media for deployments where media acquisition is
// entirely client-side.
type NopMedia struct{}

func (NopMedia) Release() error { return nil }

type queuedCandidate struct {
	recipientID string
	candidate   json.RawMessage
}

// Context is one call attempt's negotiation state. Candidates arriving
// before both descriptions exist are queued; the queue is flushed exactly
// once, in arrival order, right after the answer is applied, and is never
// replayed. A renegotiation allocates a fresh Context.
type Context struct {
	mu sync.Mutex

	offer  json.RawMessage
	answer json.RawMessage

	pending []queuedCandidate
	flushed bool

	audioEnabled bool
	videoEnabled bool

	sink   Sink
	media  Media
	closed bool
}

// NewContext allocates a fresh negotiation context with its own empty
// candidate queue. Media may be nil.
func NewContext(sink Sink, media Media) *Context {
	return &Context{
		sink:         sink,
		media:        media,
		audioEnabled: true,
		videoEnabled: true,
	}
}

// SetOffer records the initiator's session description.
func (c *Context) SetOffer(offer json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errs.ErrNegotiationClosed
	}
	c.offer = offer
	return nil
}

// SetAnswer records the answering description and flushes the pending
// candidate queue exactly once, in arrival order.
func (c *Context) SetAnswer(answer json.RawMessage) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errs.ErrNegotiationClosed
	}
	c.answer = answer
	var flush []queuedCandidate
	if !c.flushed {
		c.flushed = true
		flush = c.pending
		c.pending = nil
	}
	sink := c.sink
	c.mu.Unlock()

	for _, q := range flush {
		sink(q.recipientID, q.candidate)
	}
	return nil
}

// AddCandidate forwards the candidate when the descriptions are in place,
// or queues it until they are.
func (c *Context) AddCandidate(recipientID string, candidate json.RawMessage) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errs.ErrNegotiationClosed
	}
	if !c.flushed {
		c.pending = append(c.pending, queuedCandidate{recipientID: recipientID, candidate: candidate})
		c.mu.Unlock()
		return nil
	}
	sink := c.sink
	c.mu.Unlock()

	sink(recipientID, candidate)
	return nil
}

// Complete reports whether both descriptions have been applied.
func (c *Context) Complete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.offer) > 0 && len(c.answer) > 0
}

// ToggleAudio flips the audio track state and returns the new state.
func (c *Context) ToggleAudio() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioEnabled = !c.audioEnabled
	return c.audioEnabled
}

// ToggleVideo flips the video track state and returns the new state.
func (c *Context) ToggleVideo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videoEnabled = !c.videoEnabled
	return c.videoEnabled
}

// Cleanup releases the media handle and closes the context. Idempotent;
// pending candidates are discarded, never replayed.
func (c *Context) Cleanup() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.pending = nil
	media := c.media
	c.media = nil
	c.mu.Unlock()

	if media != nil {
		return media.Release()
	}
	return nil
}
