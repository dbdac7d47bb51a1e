// Package engine executes decoded commands against the store. Every command,
// the snapshot it triggers and every expiry sweep run under one mutex, so no
// two of them ever interleave.
package engine

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/miguelrodriguezrv/snapkv/app/parser"
	"github.com/miguelrodriguezrv/snapkv/app/store"
)

// Persister receives a full snapshot after every mutation.
type Persister interface {
	Save(snap store.Snapshot) error
}

type Option func(*Engine)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithParams sets the read-only parameters reported by CONFIG GET and INFO.
func WithParams(params map[string]string) Option {
	return func(e *Engine) {
		for k, v := range params {
			e.params[strings.ToLower(k)] = v
		}
	}
}

// Stats is a point-in-time view of the engine counters.
type Stats struct {
	Keys          int       `json:"keys"`
	Expires       int       `json:"expires"`
	Commands      uint64    `json:"commands"`
	Saves         uint64    `json:"saves"`
	SaveFailures  uint64    `json:"save_failures"`
	LastSaveAt    time.Time `json:"last_save_at"`
	LastSaveError string    `json:"last_save_error,omitempty"`
}

type Engine struct {
	mu        sync.Mutex
	store     store.Store
	persister Persister
	now       func() time.Time
	params    map[string]string
	startedAt time.Time

	commands     uint64
	saves        uint64
	saveFailures uint64
	lastSaveAt   time.Time
	lastSaveErr  error
}

func New(st store.Store, p Persister, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		persister: p,
		now:       time.Now,
		params:    map[string]string{"appendonly": "no", "save": ""},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.startedAt = e.now()
	return e
}

// Execute runs one command and returns the encoded reply. A mutating
// command has its snapshot written before Execute returns.
func (e *Engine) Execute(args [][]byte) []byte {
	if len(args) == 0 {
		return parser.AppendError(nil, "ERR empty command")
	}
	name := strings.ToLower(string(args[0]))

	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands++

	cmd, ok := commands[name]
	if !ok {
		return parser.AppendError(nil, "ERR unknown command '"+name+"'")
	}
	if len(args) < cmd.minArgs || (cmd.maxArgs > 0 && len(args) > cmd.maxArgs) {
		return parser.AppendError(nil, "ERR wrong number of arguments for '"+name+"' command")
	}

	reply, mutated := cmd.handler(e, args)
	if mutated {
		_ = e.persist()
	}
	return reply
}

// SweepExpired evicts every entry whose deadline has been reached and writes
// a snapshot when anything was evicted.
func (e *Engine) SweepExpired() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	evicted := e.store.EvictExpired(e.nowMs())
	if evicted > 0 {
		log.Debug().Int("evicted", evicted).Msg("Expired keys swept")
		_ = e.persist()
	}
	return evicted
}

// Save writes a snapshot of the current state.
func (e *Engine) Save() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.persist()
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Stats{
		Keys:         e.store.Len(),
		Expires:      e.store.ExpiresLen(),
		Commands:     e.commands,
		Saves:        e.saves,
		SaveFailures: e.saveFailures,
		LastSaveAt:   e.lastSaveAt,
	}
	if e.lastSaveErr != nil {
		s.LastSaveError = e.lastSaveErr.Error()
	}
	return s
}

// persist must be called with mu held. Failures are logged and counted; the
// in-memory state stays authoritative.
func (e *Engine) persist() error {
	snap := e.store.Snapshot()
	err := e.persister.Save(snap)
	e.lastSaveErr = err
	if err != nil {
		e.saveFailures++
		log.Error().Err(err).Int("key_count", len(snap.Values)).Msg("Failed to save snapshot")
		return err
	}
	e.saves++
	e.lastSaveAt = e.now()
	return nil
}

func (e *Engine) nowMs() int64 {
	return e.now().UnixMilli()
}
