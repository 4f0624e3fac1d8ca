// Package identity generates the identifiers the coordination engine hands
// out: device ids, connection ids, room ids/codes, and guest display names.
package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"

	"github.com/google/uuid"
)

const (
	roomCodeLength = 6
	codeChars      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // removed ambiguous chars
)

// NewDeviceID returns a stable per-installation identifier. Clients persist
// it; the server only mints one when a client arrives without.
func NewDeviceID() string {
	return uuid.New().String()
}

// NewConnectionID returns an ephemeral identifier for one transport session.
func NewConnectionID() string {
	return uuid.New().String()
}

// NewRoomID returns a room's canonical identifier.
func NewRoomID() string {
	return uuid.New().String()
}

// NewEntryID returns an identifier for a text or file entry.
func NewEntryID() string {
	return uuid.New().String()
}

// LocalRoomID derives the locality room key from a client address: peers
// behind the same public address land in the same room without exchanging
// anything.
func LocalRoomID(clientIP string) string {
	sum := sha256.Sum256([]byte("local:" + clientIP))
	return "local-" + hex.EncodeToString(sum[:8])
}

// NewRoomCode generates a short shareable room code.
func NewRoomCode() string {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}

// IsRoomCode reports whether an identifier looks like a short code rather
// than a canonical room id.
func IsRoomCode(identifier string) bool {
	return len(identifier) == roomCodeLength
}

var guestAdjectives = []string{
	"brave", "calm", "eager", "gentle", "happy", "jolly", "keen", "lively",
	"merry", "noble", "quick", "quiet", "sunny", "swift", "witty", "zesty",
}

var guestAnimals = []string{
	"badger", "falcon", "heron", "lynx", "marten", "otter", "panda", "raven",
	"seal", "stork", "tapir", "vole", "walrus", "wombat", "yak", "zebra",
}

// NewGuestName returns a readable display name like "quiet-otter" for
// devices that never registered an account.
func NewGuestName() string {
	return guestAdjectives[randomIndex(len(guestAdjectives))] + "-" +
		guestAnimals[randomIndex(len(guestAnimals))]
}

func randomIndex(max int) int {
	n, _ := rand.Int(rand.Reader, big.NewInt(int64(max)))
	return int(n.Int64())
}
