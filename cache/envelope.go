package cache

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// envelope wraps every stored value with the write timestamp and the logical
// TTL. Both tiers enforce now - WrittenAt > TTLSeconds on read even when the
// backend's own expiry has not fired, which defends against backend clock
// skew and against backends with no native TTL support.
type envelope struct {
	Data       []byte `msgpack:"v"`
	WrittenAt  int64  `msgpack:"w"`
	TTLSeconds int64  `msgpack:"t"`
}

func sealEnvelope(data []byte, ttl time.Duration, now time.Time) ([]byte, error) {
	env := envelope{
		Data:       data,
		WrittenAt:  now.Unix(),
		TTLSeconds: int64(ttl / time.Second),
	}
	buf, err := msgpack.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("cache: failed to seal envelope: %w", err)
	}
	return buf, nil
}

func openEnvelope(buf []byte) (envelope, error) {
	var env envelope
	if err := msgpack.Unmarshal(buf, &env); err != nil {
		return envelope{}, fmt.Errorf("cache: failed to open envelope: %w", err)
	}
	return env, nil
}

// stale reports whether the entry is logically expired.
func (e envelope) stale(now time.Time) bool {
	return now.Unix()-e.WrittenAt > e.TTLSeconds
}

// remaining returns the logical lifetime the entry has left.
func (e envelope) remaining(now time.Time) time.Duration {
	left := e.WrittenAt + e.TTLSeconds - now.Unix()
	if left <= 0 {
		return 0
	}
	return time.Duration(left) * time.Second
}

// Entry is a decoded cache entry, exposed so callers doing read-modify-write
// updates can preserve the remaining TTL of the original write.
type Entry struct {
	Data      []byte
	WrittenAt time.Time
	TTL       time.Duration
	Remaining time.Duration
}
