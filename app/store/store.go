package store

import "github.com/miguelrodriguezrv/snapkv/app/value"

// Store is the authoritative key space: a value mapping plus a deadline
// mapping of absolute expiry times in milliseconds since the epoch.
//
// Reads never check expiry on their own; callers use EvictIfExpired and
// EvictExpired before reading so expiry is applied the same way everywhere.
type Store interface {
	Get(key string) (value.Value, bool)
	Set(key string, v value.Value)
	SetWithDeadline(key string, v value.Value, deadlineMs int64)
	SetDeadline(key string, deadlineMs int64) bool
	Deadline(key string) (int64, bool)
	Delete(key string) bool
	Keys() []string
	Len() int
	ExpiresLen() int
	EvictIfExpired(key string, nowMs int64) bool
	EvictExpired(nowMs int64) int
	Clear()
	Snapshot() Snapshot
	Restore(snap Snapshot)
}

// Snapshot is a detached copy of both mappings, used for persistence.
type Snapshot struct {
	Values    map[string]value.Value
	Deadlines map[string]int64
}

func NewSnapshot() Snapshot {
	return Snapshot{
		Values:    make(map[string]value.Value),
		Deadlines: make(map[string]int64),
	}
}

// Expired reports whether a deadline has been reached at nowMs.
func Expired(deadlineMs, nowMs int64) bool {
	return deadlineMs <= nowMs
}
