package models

// CallState is one step in a call's lifecycle. Values are stable because
// they cross the wire in diagnostics.
type CallState string

const (
	CallIdle         CallState = "idle"
	CallOutgoing     CallState = "outgoing"
	CallIncoming     CallState = "incoming"
	CallConnecting   CallState = "connecting"
	CallActive       CallState = "active"
	CallDisconnected CallState = "disconnected"
)

// CallErrorReason is the fixed taxonomy for call setup failures. Every
// failure resolves the caller back to idle after surfacing one of these.
type CallErrorReason string

const (
	CallErrPeerOffline      CallErrorReason = "peer_offline"
	CallErrPeerBusy         CallErrorReason = "peer_busy"
	CallErrAlreadyInCall    CallErrorReason = "already_in_call"
	CallErrInvalidRecipient CallErrorReason = "invalid_recipient"
)

// End reasons carried on call:ended and random:chat_ended.
const (
	EndReasonHangup      = "hangup"
	EndReasonRejected    = "rejected"
	EndReasonTimeout     = "timeout"
	EndReasonPeerLost    = "peer_lost"
	EndReasonSkipped     = "skipped"
	EndReasonSearchEnded = "search_ended"
)

// InitiatorOf picks the offer-creating side for a pair of devices: the
// identifier that sorts lexicographically greater wins. Deterministic on
// both sides without a coordinator round-trip.
func InitiatorOf(a, b string) string {
	if a > b {
		return a
	}
	return b
}
