// Package match pairs devices waiting for a random call. Pairing happens
// inline on enqueue; the initiator role falls to the lexicographically
// greater device id so both sides agree without another round-trip.
package match

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mossy-p/roomdrop/internal/errs"
	"github.com/mossy-p/roomdrop/internal/identity"
	"github.com/mossy-p/roomdrop/internal/models"
)

// Calls is the slice of the call manager the queue needs.
type Calls interface {
	StartMatched(a, b string) (string, error)
	End(deviceID, reason string)
}

// Events delivers matchmaking events to devices.
type Events interface {
	SendToDevice(deviceID string, env models.Envelope)
}

type waiter struct {
	deviceID string
	prefs    models.MatchPreferences
	excluded string // most recently skipped partner
}

// Queue holds searching devices and the active random pairs.
type Queue struct {
	mu      sync.Mutex
	waiting []waiter          // FIFO
	paired  map[string]string // device -> partner
	rooms   map[string]string // device -> shared match room

	calls  Calls
	events Events
	logger *zap.Logger

	heartbeat time.Duration
	newRoomID func() string
}

func NewQueue(calls Calls, events Events, logger *zap.Logger) *Queue {
	return &Queue{
		paired:    make(map[string]string),
		rooms:     make(map[string]string),
		calls:     calls,
		events:    events,
		logger:    logger,
		heartbeat: 5 * time.Second,
		newRoomID: identity.NewRoomID,
	}
}

// Run emits the Searching heartbeat to every queued device until ctx ends.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.mu.Lock()
			count := len(q.waiting)
			ids := make([]string, count)
			for i, w := range q.waiting {
				ids[i] = w.deviceID
			}
			q.mu.Unlock()
			for _, id := range ids {
				q.events.SendToDevice(id, models.MustEvent(models.EventMatchSearching, models.SearchingPayload{Count: count}))
			}
		}
	}
}

// Enqueue adds a device to the queue, pairing it immediately when a
// compatible waiter exists.
func (q *Queue) Enqueue(deviceID string, prefs models.MatchPreferences) {
	q.mu.Lock()
	if _, inChat := q.paired[deviceID]; inChat {
		q.mu.Unlock()
		q.events.SendToDevice(deviceID, models.MustEvent(models.EventCallError, models.CallErrorPayload{
			Reason: string(models.CallErrAlreadyInCall),
		}))
		return
	}

	for i, w := range q.waiting {
		if w.deviceID == deviceID {
			// Re-enqueue refreshes preferences, keeps queue position and
			// any skip exclusion.
			q.waiting[i].prefs = prefs
			count := len(q.waiting)
			q.mu.Unlock()
			q.events.SendToDevice(deviceID, models.MustEvent(models.EventMatchSearching, models.SearchingPayload{Count: count}))
			return
		}
	}

	// A fresh enqueue carries no exclusion of its own; skip exclusions live
	// on the waiters Skip re-queued.
	partnerIdx := -1
	for i, w := range q.waiting {
		if w.deviceID == deviceID || w.excluded == deviceID {
			continue
		}
		if prefs.Compatible(w.prefs) {
			partnerIdx = i
			break
		}
	}

	if partnerIdx < 0 {
		q.waiting = append(q.waiting, waiter{deviceID: deviceID, prefs: prefs})
		count := len(q.waiting)
		q.mu.Unlock()
		q.events.SendToDevice(deviceID, models.MustEvent(models.EventMatchSearching, models.SearchingPayload{Count: count}))
		return
	}

	partner := q.waiting[partnerIdx].deviceID
	q.waiting = append(q.waiting[:partnerIdx], q.waiting[partnerIdx+1:]...)
	q.mu.Unlock()

	q.pair(deviceID, partner)
}

func (q *Queue) pair(a, b string) {
	initiator, err := q.calls.StartMatched(a, b)
	if err != nil {
		q.logger.Warn("matchmade call setup failed", zap.String("a", a), zap.String("b", b), zap.Error(err))
		q.events.SendToDevice(a, models.MustEvent(models.EventChatEnded, models.ChatEndedPayload{
			Reason: models.EndReasonSearchEnded,
		}))
		return
	}

	roomID := q.newRoomID()
	q.mu.Lock()
	q.paired[a] = b
	q.paired[b] = a
	q.rooms[a] = roomID
	q.rooms[b] = roomID
	q.mu.Unlock()

	q.events.SendToDevice(a, models.MustEvent(models.EventMatched, models.MatchedPayload{
		PartnerID:   b,
		RoomID:      roomID,
		IsInitiator: initiator == a,
	}))
	q.events.SendToDevice(b, models.MustEvent(models.EventMatched, models.MatchedPayload{
		PartnerID:   a,
		RoomID:      roomID,
		IsInitiator: initiator == b,
	}))
	q.logger.Info("matched", zap.String("a", a), zap.String("b", b), zap.String("initiator", initiator))
}

// Dequeue removes a device that stopped searching.
func (q *Queue) Dequeue(deviceID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, w := range q.waiting {
		if w.deviceID == deviceID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return nil
		}
	}
	return errs.ErrNotSearching
}

// Skip ends the current random chat and puts the skipper back in the queue,
// excluding the partner it just left.
func (q *Queue) Skip(deviceID string) {
	partner, ok := q.endPair(deviceID, models.EndReasonSkipped)
	if !ok {
		return
	}
	q.mu.Lock()
	q.waiting = append(q.waiting, waiter{deviceID: deviceID, excluded: partner})
	count := len(q.waiting)
	q.mu.Unlock()
	q.events.SendToDevice(deviceID, models.MustEvent(models.EventMatchSearching, models.SearchingPayload{Count: count}))
}

// EndChat ends the current random chat without re-queueing either side.
func (q *Queue) EndChat(deviceID string) {
	q.endPair(deviceID, models.EndReasonHangup)
}

// ConnectionLost clears a device from the queue and from any active pair.
func (q *Queue) ConnectionLost(deviceID string) {
	_ = q.Dequeue(deviceID)
	q.endPair(deviceID, models.EndReasonPeerLost)
}

// Waiting returns the number of devices searching right now.
func (q *Queue) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// PartnerOf returns the device's current random-chat partner.
func (q *Queue) PartnerOf(deviceID string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.paired[deviceID]
	return p, ok
}

func (q *Queue) endPair(deviceID, reason string) (string, bool) {
	q.mu.Lock()
	partner, ok := q.paired[deviceID]
	if !ok {
		q.mu.Unlock()
		return "", false
	}
	delete(q.paired, deviceID)
	delete(q.paired, partner)
	delete(q.rooms, deviceID)
	delete(q.rooms, partner)
	q.mu.Unlock()

	q.calls.End(deviceID, reason)
	ended := models.MustEvent(models.EventChatEnded, models.ChatEndedPayload{Reason: reason})
	q.events.SendToDevice(deviceID, ended)
	q.events.SendToDevice(partner, ended)
	return partner, true
}
