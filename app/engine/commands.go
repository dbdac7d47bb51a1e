package engine

import (
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"

	"github.com/miguelrodriguezrv/snapkv/app/parser"
	"github.com/miguelrodriguezrv/snapkv/app/store"
	"github.com/miguelrodriguezrv/snapkv/app/value"
)

// handler returns the reply and whether the store was modified.
type handler func(e *Engine, req [][]byte) ([]byte, bool)

type command struct {
	handler handler
	// minArgs and maxArgs count the command name; maxArgs 0 means unbounded.
	minArgs, maxArgs int
}

var commands = map[string]command{
	"set":      {(*Engine).handleSet, 3, 5},
	"setex":    {(*Engine).handleSetEx, 4, 4},
	"expire":   {(*Engine).handleExpire, 3, 3},
	"ttl":      {(*Engine).handleTTL, 2, 2},
	"get":      {(*Engine).handleGet, 2, 2},
	"del":      {(*Engine).handleDel, 2, 0},
	"keys":     {(*Engine).handleKeys, 1, 2},
	"flushall": {(*Engine).handleFlushAll, 1, 1},
	"ping":     {(*Engine).handlePing, 1, 2},
	"echo":     {(*Engine).handleEcho, 2, 2},
	"save":     {(*Engine).handleSave, 1, 1},
	"info":     {(*Engine).handleInfo, 1, 0},
	"config":   {(*Engine).handleConfig, 2, 0},
	"command":  {(*Engine).handleCommand, 1, 0},
}

var errEmptyKey = parser.AppendError(nil, "ERR empty key")

func (e *Engine) handleSet(req [][]byte) ([]byte, bool) {
	if len(req[1]) == 0 {
		return errEmptyKey, false
	}
	key, v := string(req[1]), value.Coerce(string(req[2]))

	if len(req) == 3 {
		e.store.Set(key, v)
		return parser.OK(), true
	}
	if len(req) != 5 {
		return parser.AppendError(nil, "ERR syntax error"), false
	}

	var unit int64
	switch strings.ToLower(string(req[3])) {
	case "ex":
		unit = 1000
	case "px":
		unit = 1
	default:
		return parser.AppendError(nil, "ERR syntax error"), false
	}
	deadline, ok := e.deadlineAfter(req[4], unit)
	if !ok {
		return parser.AppendError(nil, "ERR invalid expire time in set"), false
	}
	e.store.SetWithDeadline(key, v, deadline)
	return parser.OK(), true
}

func (e *Engine) handleSetEx(req [][]byte) ([]byte, bool) {
	if len(req[1]) == 0 {
		return errEmptyKey, false
	}
	deadline, ok := e.deadlineAfter(req[2], 1000)
	if !ok {
		return parser.AppendError(nil, "ERR invalid expire time in setex"), false
	}
	e.store.SetWithDeadline(string(req[1]), value.Coerce(string(req[3])), deadline)
	return parser.OK(), true
}

func (e *Engine) handleExpire(req [][]byte) ([]byte, bool) {
	deadline, ok := e.deadlineAfter(req[2], 1000)
	if !ok {
		return parser.AppendError(nil, "ERR invalid expire time in expire"), false
	}
	key := string(req[1])
	evicted := e.store.EvictIfExpired(key, e.nowMs())
	if !e.store.SetDeadline(key, deadline) {
		return parser.AppendInt(nil, 0), evicted
	}
	return parser.AppendInt(nil, 1), true
}

func (e *Engine) handleTTL(req [][]byte) ([]byte, bool) {
	key := string(req[1])
	if _, ok := e.store.Get(key); !ok {
		return parser.AppendInt(nil, -2), false
	}
	deadline, ok := e.store.Deadline(key)
	if !ok {
		return parser.AppendInt(nil, -1), false
	}
	now := e.nowMs()
	if store.Expired(deadline, now) {
		e.store.Delete(key)
		return parser.AppendInt(nil, -2), true
	}
	// Round half up to whole seconds.
	return parser.AppendInt(nil, (deadline-now+500)/1000), false
}

func (e *Engine) handleGet(req [][]byte) ([]byte, bool) {
	key := string(req[1])
	evicted := e.store.EvictIfExpired(key, e.nowMs())
	v, ok := e.store.Get(key)
	if !ok {
		return parser.NullBulkString(), evicted
	}
	return parser.AppendBulkString(nil, v.String()), evicted
}

func (e *Engine) handleDel(req [][]byte) ([]byte, bool) {
	now := e.nowMs()
	mutated := false
	var deleted int64
	for _, arg := range req[1:] {
		key := string(arg)
		if e.store.EvictIfExpired(key, now) {
			mutated = true
		}
		if _, exists := e.store.Get(key); !exists {
			continue
		}
		e.store.Delete(key)
		deleted++
		mutated = true
	}
	return parser.AppendInt(nil, deleted), mutated
}

func (e *Engine) handleKeys(req [][]byte) ([]byte, bool) {
	var pattern glob.Glob
	if len(req) == 2 && string(req[1]) != "*" {
		var err error
		if pattern, err = compilePattern(string(req[1])); err != nil {
			return parser.AppendError(nil, "ERR invalid pattern"), false
		}
	}

	evicted := e.store.EvictExpired(e.nowMs()) > 0
	keys := e.store.Keys()
	if pattern != nil {
		keys = slices.DeleteFunc(keys, func(k string) bool { return !pattern.Match(k) })
	}
	return parser.EncodeStringArray(keys...), evicted
}

func (e *Engine) handleFlushAll(req [][]byte) ([]byte, bool) {
	e.store.Clear()
	return parser.OK(), true
}

func (e *Engine) handlePing(req [][]byte) ([]byte, bool) {
	if len(req) == 2 {
		return parser.AppendBulk(nil, req[1]), false
	}
	return parser.AppendString(nil, "PONG"), false
}

func (e *Engine) handleEcho(req [][]byte) ([]byte, bool) {
	return parser.AppendBulk(nil, req[1]), false
}

func (e *Engine) handleSave(req [][]byte) ([]byte, bool) {
	if err := e.persist(); err != nil {
		return parser.AppendError(nil, "ERR failed to save snapshot"), false
	}
	log.Info().Int("key_count", e.store.Len()).Msg("Snapshot saved on request")
	return parser.OK(), false
}

func (e *Engine) handleConfig(req [][]byte) ([]byte, bool) {
	sub := strings.ToLower(string(req[1]))
	if sub != "get" {
		return parser.AppendError(nil, "ERR unknown subcommand '"+sub+"'"), false
	}
	if len(req) < 3 {
		return parser.AppendError(nil, "ERR wrong number of arguments for 'config|get' command"), false
	}

	names := slices.Sorted(maps.Keys(e.params))
	var matched []string
	for _, arg := range req[2:] {
		g, err := compilePattern(strings.ToLower(string(arg)))
		if err != nil {
			continue
		}
		for _, name := range names {
			if g.Match(name) && !slices.Contains(matched, name) {
				matched = append(matched, name)
			}
		}
	}

	response := parser.AppendArray(nil, len(matched)*2)
	for _, name := range matched {
		response = parser.AppendBulkString(response, name)
		response = parser.AppendBulkString(response, e.params[name])
	}
	return response, false
}

func (e *Engine) handleCommand(req [][]byte) ([]byte, bool) {
	return parser.AppendArray(nil, 0), false
}

// compilePattern compiles a Redis style pattern. Redis negates a class with
// [^...] and has no {a,b} alternation, so braces match literally.
func compilePattern(pattern string) (glob.Glob, error) {
	var b strings.Builder
	inClass := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\' && i+1 < len(pattern):
			b.WriteByte(c)
			i++
			b.WriteByte(pattern[i])
		case inClass:
			if c == ']' {
				inClass = false
			}
			b.WriteByte(c)
		case c == '[':
			inClass = true
			b.WriteByte(c)
			if i+1 < len(pattern) && pattern[i+1] == '^' {
				b.WriteByte('!')
				i++
			}
		case c == '{' || c == '}':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return glob.Compile(b.String())
}

// deadlineAfter parses a strictly positive integer amount of units (in ms)
// and returns the absolute deadline. Amounts that would overflow are
// rejected like non-positive ones.
func (e *Engine) deadlineAfter(raw []byte, unit int64) (int64, bool) {
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	now := e.nowMs()
	if n > (math.MaxInt64-now)/unit {
		return 0, false
	}
	return now + n*unit, true
}
