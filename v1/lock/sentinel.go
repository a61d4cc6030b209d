package lock

import (
	"time"

	"github.com/mirkobrombin/go-tiercache/v1/codec"
)

// State is the lifecycle state recorded in a sentinel.
type State string

const (
	StateLocked   State = "locked"
	StateRunning  State = "running"
	StateCanceled State = "canceled"
)

// Sentinel is the record stored for a held lock or a running task.
type Sentinel struct {
	State     State     `json:"state"`
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

var sentinelCodec codec.Codec = codec.JSON{}

func newSentinel(state State, owner string, ttl time.Duration) Sentinel {
	return Sentinel{State: state, Owner: owner, ExpiresAt: time.Now().Add(ttl).UTC()}
}

func (s Sentinel) encode() (string, error) {
	b, err := sentinelCodec.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeSentinel(raw string) (Sentinel, error) {
	var s Sentinel
	err := sentinelCodec.Unmarshal([]byte(raw), &s)
	return s, err
}
