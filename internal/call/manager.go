// Package call drives the call lifecycle over the unordered point-to-point
// signaling channel: ringing, accept/reject, negotiation hand-off, timers,
// and the fixed error taxonomy.
package call

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mossy-p/roomdrop/internal/models"
	"github.com/mossy-p/roomdrop/internal/negotiate"
)

// Events is the slice of the relay the manager needs.
type Events interface {
	SendToDevice(deviceID string, env models.Envelope)
	DeviceOnline(deviceID string) bool
}

// Error carries one reason from the fixed call-error taxonomy. Every Error
// resolves the affected device back to idle.
type Error struct {
	Reason models.CallErrorReason
}

func (e *Error) Error() string { return string(e.Reason) }

// Session is one call attempt between two devices. Both devices index the
// same Session in the manager.
type Session struct {
	CallerID    string
	CalleeID    string
	CallerName  string
	InitiatorID string // offer-creating side, lexicographic winner
	State       models.CallState
	Negotiation *negotiate.Context
	StartedAt   time.Time // set on entering active; drives the duration counter

	ringTimer  *time.Timer
	graceTimer *time.Timer
	lostDevice string
}

func (s *Session) peerOf(deviceID string) string {
	if deviceID == s.CallerID {
		return s.CalleeID
	}
	return s.CallerID
}

// Manager owns every live call session on this coordinator.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session // deviceID -> shared session

	events Events
	media  negotiate.MediaRequester
	logger *zap.Logger

	ringTimeout time.Duration
	graceWindow time.Duration
	now         func() time.Time
}

func NewManager(events Events, media negotiate.MediaRequester, logger *zap.Logger, ringTimeout, graceWindow time.Duration) *Manager {
	if ringTimeout <= 0 {
		ringTimeout = 30 * time.Second
	}
	if graceWindow <= 0 {
		graceWindow = 5 * time.Second
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		events:      events,
		media:       media,
		logger:      logger,
		ringTimeout: ringTimeout,
		graceWindow: graceWindow,
		now:         time.Now,
	}
}

// StateOf reports a device's current lifecycle state from its own
// perspective: a ringing session is outgoing for the caller, incoming for
// the callee.
func (m *Manager) StateOf(deviceID string) models.CallState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[deviceID]
	if !ok {
		return models.CallIdle
	}
	switch s.State {
	case models.CallOutgoing:
		if deviceID == s.CallerID {
			return models.CallOutgoing
		}
		return models.CallIncoming
	default:
		return s.State
	}
}

// Request starts a call attempt. Failures are classified, surfaced to the
// caller only, and leave the caller idle.
func (m *Manager) Request(callerID, callerName, recipientID string) error {
	m.mu.Lock()
	if recipientID == "" || recipientID == callerID {
		m.mu.Unlock()
		return m.fail(callerID, models.CallErrInvalidRecipient)
	}
	if _, busy := m.sessions[callerID]; busy {
		m.mu.Unlock()
		return m.fail(callerID, models.CallErrAlreadyInCall)
	}
	if !m.events.DeviceOnline(recipientID) {
		m.mu.Unlock()
		return m.fail(callerID, models.CallErrPeerOffline)
	}
	if _, busy := m.sessions[recipientID]; busy {
		m.mu.Unlock()
		return m.fail(callerID, models.CallErrPeerBusy)
	}

	s := &Session{
		CallerID:    callerID,
		CalleeID:    recipientID,
		CallerName:  callerName,
		InitiatorID: models.InitiatorOf(callerID, recipientID),
		State:       models.CallOutgoing,
	}
	m.sessions[callerID] = s
	m.sessions[recipientID] = s
	s.ringTimer = time.AfterFunc(m.ringTimeout, func() { m.ringTimedOut(s) })
	m.mu.Unlock()

	m.events.SendToDevice(recipientID, models.MustEvent(models.EventCallIncoming, models.CallIncomingPayload{
		CallerID:   callerID,
		CallerName: callerName,
	}))
	return nil
}

// Accept moves a ringing call to connecting: the negotiation context is
// allocated and local media requested, then both sides learn their role.
func (m *Manager) Accept(calleeID, callerID string) error {
	m.mu.Lock()
	s, ok := m.sessions[calleeID]
	if !ok || s.CalleeID != calleeID || s.CallerID != callerID || s.State != models.CallOutgoing {
		m.mu.Unlock()
		return m.fail(calleeID, models.CallErrInvalidRecipient)
	}
	s.ringTimer.Stop()
	s.ringTimer = nil
	s.State = models.CallConnecting
	s.Negotiation = negotiate.NewContext(m.candidateSink(s), m.requestMedia())
	m.mu.Unlock()

	m.events.SendToDevice(s.CallerID, models.MustEvent(models.EventCallAccepted, models.CallAcceptedPayload{
		PeerID:      s.CalleeID,
		IsInitiator: s.InitiatorID == s.CallerID,
	}))
	m.events.SendToDevice(s.CalleeID, models.MustEvent(models.EventCallAccepted, models.CallAcceptedPayload{
		PeerID:      s.CallerID,
		IsInitiator: s.InitiatorID == s.CalleeID,
	}))
	return nil
}

// Reject declines a ringing call; both sides return to idle.
func (m *Manager) Reject(calleeID, callerID string) error {
	m.mu.Lock()
	s, ok := m.sessions[calleeID]
	if !ok || s.CalleeID != calleeID || s.CallerID != callerID || s.State != models.CallOutgoing {
		m.mu.Unlock()
		return m.fail(calleeID, models.CallErrInvalidRecipient)
	}
	m.teardownLocked(s)
	m.mu.Unlock()

	m.events.SendToDevice(callerID, models.MustEvent(models.EventCallRejected, models.CallRejectedPayload{
		PeerID: calleeID,
	}))
	return nil
}

// End handles an intentional hang-up from any state: the session passes
// through disconnected and resolves to idle immediately, no grace delay.
func (m *Manager) End(deviceID, reason string) {
	if reason == "" {
		reason = models.EndReasonHangup
	}
	m.mu.Lock()
	s, ok := m.sessions[deviceID]
	if !ok {
		m.mu.Unlock()
		return
	}
	peer := s.peerOf(deviceID)
	s.State = models.CallDisconnected
	m.teardownLocked(s)
	m.mu.Unlock()

	m.events.SendToDevice(peer, models.MustEvent(models.EventCallEnded, models.CallEndedPayload{
		PeerID: deviceID,
		Reason: reason,
	}))
}

// HandleOffer records the initiator's description and relays it. An offer
// on an already-active session starts a renegotiation with a fresh context
// and a fresh candidate queue.
func (m *Manager) HandleOffer(senderID, recipientID string, offer json.RawMessage) {
	m.mu.Lock()
	s := m.sessionBetween(senderID, recipientID)
	if s == nil || (s.State != models.CallConnecting && s.State != models.CallActive) {
		m.mu.Unlock()
		m.logger.Debug("dropping stale offer", zap.String("from", senderID))
		return
	}
	if s.State == models.CallActive {
		if s.Negotiation != nil {
			_ = s.Negotiation.Cleanup()
		}
		s.Negotiation = negotiate.NewContext(m.candidateSink(s), m.requestMedia())
		s.State = models.CallConnecting
	}
	neg := s.Negotiation
	m.mu.Unlock()

	if err := neg.SetOffer(offer); err != nil {
		m.logger.Warn("offer on closed negotiation", zap.String("from", senderID), zap.Error(err))
		return
	}
	m.events.SendToDevice(recipientID, models.MustEvent(models.EventOffer, models.OfferPayload{
		SenderID: senderID,
		Offer:    offer,
	}))
}

// HandleAnswer completes negotiation: the answer is relayed, queued
// candidates flush in arrival order, and the call goes active.
func (m *Manager) HandleAnswer(senderID, recipientID string, answer json.RawMessage) {
	m.mu.Lock()
	s := m.sessionBetween(senderID, recipientID)
	if s == nil || s.State != models.CallConnecting {
		m.mu.Unlock()
		m.logger.Debug("dropping stale answer", zap.String("from", senderID))
		return
	}
	neg := s.Negotiation
	m.mu.Unlock()

	m.events.SendToDevice(recipientID, models.MustEvent(models.EventAnswer, models.AnswerPayload{
		SenderID: senderID,
		Answer:   answer,
	}))
	if err := neg.SetAnswer(answer); err != nil {
		m.logger.Warn("answer on closed negotiation", zap.String("from", senderID), zap.Error(err))
		return
	}

	m.mu.Lock()
	if s.State == models.CallConnecting {
		s.State = models.CallActive
		s.StartedAt = m.now()
	}
	m.mu.Unlock()
}

// HandleCandidate routes a candidate through the session's negotiation
// context, which queues it until the descriptions exist. Candidates with no
// matching session are stale and dropped.
func (m *Manager) HandleCandidate(senderID, recipientID string, candidate json.RawMessage) {
	m.mu.Lock()
	s := m.sessionBetween(senderID, recipientID)
	if s == nil || s.Negotiation == nil {
		m.mu.Unlock()
		m.logger.Debug("dropping stale candidate", zap.String("from", senderID))
		return
	}
	neg := s.Negotiation
	m.mu.Unlock()

	if err := neg.AddCandidate(recipientID, candidate); err != nil {
		m.logger.Debug("candidate on closed negotiation", zap.String("from", senderID), zap.Error(err))
	}
}

// ConnectionLost marks a mid-call device as gone. The session holds in
// disconnected for a grace window to let a transient blip recover; ringing
// sessions resolve immediately.
func (m *Manager) ConnectionLost(deviceID string) {
	m.mu.Lock()
	s, ok := m.sessions[deviceID]
	if !ok {
		m.mu.Unlock()
		return
	}
	peer := s.peerOf(deviceID)
	if s.State == models.CallOutgoing {
		m.teardownLocked(s)
		m.mu.Unlock()
		m.events.SendToDevice(peer, models.MustEvent(models.EventCallEnded, models.CallEndedPayload{
			PeerID: deviceID,
			Reason: models.EndReasonPeerLost,
		}))
		return
	}
	if s.State == models.CallDisconnected {
		m.mu.Unlock()
		return
	}
	s.State = models.CallDisconnected
	s.lostDevice = deviceID
	s.graceTimer = time.AfterFunc(m.graceWindow, func() { m.graceExpired(s) })
	m.mu.Unlock()
}

// Reconnected cancels the grace window if the lost device came back in time;
// the call resumes where it was.
func (m *Manager) Reconnected(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[deviceID]
	if !ok || s.State != models.CallDisconnected || s.lostDevice != deviceID {
		return
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.lostDevice = ""
	s.State = models.CallActive
}

// StartMatched opens a session for a matchmade pair straight in connecting:
// there is no ring phase, the match was mutual. Returns the offer-creating
// initiator.
func (m *Manager) StartMatched(a, b string) (string, error) {
	m.mu.Lock()
	if _, busy := m.sessions[a]; busy {
		m.mu.Unlock()
		return "", &Error{Reason: models.CallErrAlreadyInCall}
	}
	if _, busy := m.sessions[b]; busy {
		m.mu.Unlock()
		return "", &Error{Reason: models.CallErrPeerBusy}
	}
	s := &Session{
		CallerID:    a,
		CalleeID:    b,
		InitiatorID: models.InitiatorOf(a, b),
		State:       models.CallConnecting,
	}
	s.Negotiation = negotiate.NewContext(m.candidateSink(s), m.requestMedia())
	m.sessions[a] = s
	m.sessions[b] = s
	m.mu.Unlock()
	return s.InitiatorID, nil
}

// ToggleAudio flips the session's audio state for diagnostics and returns it.
func (m *Manager) ToggleAudio(deviceID string) (bool, bool) {
	m.mu.Lock()
	s, ok := m.sessions[deviceID]
	var neg *negotiate.Context
	if ok {
		neg = s.Negotiation
	}
	m.mu.Unlock()
	if neg == nil {
		return false, false
	}
	return neg.ToggleAudio(), true
}

// ToggleVideo flips the session's video state and returns it.
func (m *Manager) ToggleVideo(deviceID string) (bool, bool) {
	m.mu.Lock()
	s, ok := m.sessions[deviceID]
	var neg *negotiate.Context
	if ok {
		neg = s.Negotiation
	}
	m.mu.Unlock()
	if neg == nil {
		return false, false
	}
	return neg.ToggleVideo(), true
}

// InCall reports whether the device currently holds any call session.
func (m *Manager) InCall(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[deviceID]
	return ok
}

// PeerOf returns the other side of the device's session, if any.
func (m *Manager) PeerOf(deviceID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[deviceID]
	if !ok {
		return "", false
	}
	return s.peerOf(deviceID), true
}

func (m *Manager) ringTimedOut(s *Session) {
	m.mu.Lock()
	if m.sessions[s.CallerID] != s || s.State != models.CallOutgoing {
		m.mu.Unlock()
		return
	}
	m.teardownLocked(s)
	m.mu.Unlock()

	timeout := models.MustEvent(models.EventCallEnded, models.CallEndedPayload{
		PeerID: s.CalleeID,
		Reason: models.EndReasonTimeout,
	})
	m.events.SendToDevice(s.CallerID, timeout)
	m.events.SendToDevice(s.CalleeID, models.MustEvent(models.EventCallEnded, models.CallEndedPayload{
		PeerID: s.CallerID,
		Reason: models.EndReasonTimeout,
	}))
}

func (m *Manager) graceExpired(s *Session) {
	m.mu.Lock()
	if s.State != models.CallDisconnected || (m.sessions[s.CallerID] != s && m.sessions[s.CalleeID] != s) {
		m.mu.Unlock()
		return
	}
	lost := s.lostDevice
	m.teardownLocked(s)
	m.mu.Unlock()

	survivor := s.peerOf(lost)
	m.events.SendToDevice(survivor, models.MustEvent(models.EventCallEnded, models.CallEndedPayload{
		PeerID: lost,
		Reason: models.EndReasonPeerLost,
	}))
}

// teardownLocked cancels timers, releases the negotiation context, and
// drops both session entries. Callers hold m.mu.
func (m *Manager) teardownLocked(s *Session) {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	if s.Negotiation != nil {
		if err := s.Negotiation.Cleanup(); err != nil {
			m.logger.Warn("release media", zap.Error(err))
		}
		s.Negotiation = nil
	}
	if m.sessions[s.CallerID] == s {
		delete(m.sessions, s.CallerID)
	}
	if m.sessions[s.CalleeID] == s {
		delete(m.sessions, s.CalleeID)
	}
	s.State = models.CallIdle
}

func (m *Manager) sessionBetween(a, b string) *Session {
	s, ok := m.sessions[a]
	if !ok || s.peerOf(a) != b {
		return nil
	}
	return s
}

func (m *Manager) candidateSink(s *Session) negotiate.Sink {
	return func(recipientID string, candidate json.RawMessage) {
		m.events.SendToDevice(recipientID, models.MustEvent(models.EventIceCandidate, models.IceCandidatePayload{
			SenderID:  s.peerOf(recipientID),
			Candidate: candidate,
		}))
	}
}

func (m *Manager) requestMedia() negotiate.Media {
	if m.media == nil {
		return negotiate.NopMedia{}
	}
	media, err := m.media()
	if err != nil {
		m.logger.Warn("local media request failed", zap.Error(err))
		return negotiate.NopMedia{}
	}
	return media
}

// fail surfaces one taxonomy reason to the device and returns it as an error.
func (m *Manager) fail(deviceID string, reason models.CallErrorReason) error {
	m.events.SendToDevice(deviceID, models.MustEvent(models.EventCallError, models.CallErrorPayload{
		Reason: string(reason),
	}))
	return &Error{Reason: reason}
}
