package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miguelrodriguezrv/snapkv/app/persistence"
	"github.com/miguelrodriguezrv/snapkv/app/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingPersister keeps every snapshot it receives and checks that the
// engine lock is held during the write.
type recordingPersister struct {
	engine    *Engine
	snapshots []store.Snapshot
	unlocked  int
	err       error
}

func (p *recordingPersister) Save(snap store.Snapshot) error {
	if p.engine != nil && p.engine.mu.TryLock() {
		p.engine.mu.Unlock()
		p.unlocked++
	}
	p.snapshots = append(p.snapshots, snap)
	return p.err
}

func (p *recordingPersister) last() store.Snapshot {
	return p.snapshots[len(p.snapshots)-1]
}

func newTestEngine(t *testing.T) (*Engine, *recordingPersister, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	p := &recordingPersister{}
	e := New(store.NewInMemoryStore(), p,
		WithClock(clock.Now),
		WithParams(map[string]string{"dir": "/data", "dbfilename": "redis_data.json", "port": "6379"}),
	)
	p.engine = e
	return e, p, clock
}

func run(e *Engine, args ...string) string {
	req := make([][]byte, len(args))
	for i, arg := range args {
		req[i] = []byte(arg)
	}
	return string(e.Execute(req))
}

func bulk(s string) string {
	return fmt.Sprintf("$%d\r\n%s\r\n", len(s), s)
}

func TestGetMissingKey(t *testing.T) {
	e, p, _ := newTestEngine(t)
	assert.Equal(t, "$-1\r\n", run(e, "GET", "nope"))
	assert.Empty(t, p.snapshots)
}

func TestSetGetCoercion(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"plain string", "hello", "hello"},
		{"numeric text stays a string", "42", "42"},
		{"object keeps key order", `{"b":1,"a":{"z":true,"y":null}}`, `{"b":1,"a":{"z":true,"y":null}}`},
		{"array is compacted", `[1, 2.50, "x"]`, `[1,2.5,"x"]`},
		{"leading whitespace", `  {"a": 1}`, `{"a":1}`},
		{"broken json kept verbatim", `{oops`, `{oops`},
		{"brackets inside text", `[not json]`, `[not json]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, p, _ := newTestEngine(t)
			assert.Equal(t, "+OK\r\n", run(e, "SET", "k", tc.in))
			assert.Equal(t, bulk(tc.want), run(e, "GET", "k"))
			assert.Len(t, p.snapshots, 1)
		})
	}
}

func TestCommandNamesAreCaseInsensitive(t *testing.T) {
	e, _, _ := newTestEngine(t)
	assert.Equal(t, "+OK\r\n", run(e, "sEt", "k", "v"))
	assert.Equal(t, bulk("v"), run(e, "get", "k"))
}

func TestSetOverwritesAndClearsDeadline(t *testing.T) {
	e, _, _ := newTestEngine(t)
	run(e, "SET", "a", "5")
	run(e, "EXPIRE", "a", "100")
	run(e, "SET", "a", "10")
	assert.Equal(t, bulk("10"), run(e, "GET", "a"))
	assert.Equal(t, ":-1\r\n", run(e, "TTL", "a"))
}

func TestSetExExpires(t *testing.T) {
	e, p, clock := newTestEngine(t)
	assert.Equal(t, "+OK\r\n", run(e, "SETEX", "k", "1", "v"))
	assert.Equal(t, map[string]int64{"k": clock.Now().UnixMilli() + 1000}, p.last().Deadlines)

	clock.Advance(999 * time.Millisecond)
	assert.Equal(t, bulk("v"), run(e, "GET", "k"))

	clock.Advance(2 * time.Millisecond)
	assert.Equal(t, "$-1\r\n", run(e, "GET", "k"))
	assert.Equal(t, "*0\r\n", run(e, "KEYS"))
	assert.Empty(t, p.last().Values)
}

func TestExpiryBoundaryIsInclusive(t *testing.T) {
	e, _, clock := newTestEngine(t)
	run(e, "SETEX", "k", "1", "v")
	clock.Advance(time.Second)
	assert.Equal(t, "$-1\r\n", run(e, "GET", "k"))
}

func TestInvalidExpireTimes(t *testing.T) {
	for _, amount := range []string{"0", "-5", "abc", "1.5", "", "99999999999999999999"} {
		t.Run(amount, func(t *testing.T) {
			e, p, _ := newTestEngine(t)
			assert.Equal(t, "-ERR invalid expire time in setex\r\n", run(e, "SETEX", "k", amount, "v"))
			assert.Equal(t, "-ERR invalid expire time in set\r\n", run(e, "SET", "k", "v", "EX", amount))
			assert.Equal(t, "$-1\r\n", run(e, "GET", "k"))

			run(e, "SET", "k", "v")
			saves := len(p.snapshots)
			assert.Equal(t, "-ERR invalid expire time in expire\r\n", run(e, "EXPIRE", "k", amount))
			assert.Equal(t, ":-1\r\n", run(e, "TTL", "k"))
			assert.Len(t, p.snapshots, saves)
		})
	}
}

func TestExpire(t *testing.T) {
	e, p, clock := newTestEngine(t)

	assert.Equal(t, ":0\r\n", run(e, "EXPIRE", "missing", "10"))
	assert.Empty(t, p.snapshots)

	run(e, "SET", "k", "v")
	assert.Equal(t, ":1\r\n", run(e, "EXPIRE", "k", "10"))
	assert.Len(t, p.snapshots, 2)
	assert.Equal(t, ":10\r\n", run(e, "TTL", "k"))

	clock.Advance(9400 * time.Millisecond)
	assert.Equal(t, ":1\r\n", run(e, "TTL", "k"))

	clock.Advance(600 * time.Millisecond)
	assert.Equal(t, ":-2\r\n", run(e, "TTL", "k"))
	assert.Len(t, p.snapshots, 3)
	assert.Empty(t, p.last().Values)
	assert.Equal(t, ":-2\r\n", run(e, "TTL", "k"))
	assert.Len(t, p.snapshots, 3)
}

func TestExpireOnExpiredKeyEvicts(t *testing.T) {
	e, p, clock := newTestEngine(t)
	run(e, "SETEX", "k", "1", "v")
	clock.Advance(2 * time.Second)

	assert.Equal(t, ":0\r\n", run(e, "EXPIRE", "k", "10"))
	assert.Len(t, p.snapshots, 2)
	assert.Empty(t, p.last().Values)
}

func TestTTLRounding(t *testing.T) {
	e, _, clock := newTestEngine(t)
	run(e, "SET", "k", "v", "PX", "1500")
	assert.Equal(t, ":2\r\n", run(e, "TTL", "k"))
	clock.Advance(time.Millisecond)
	assert.Equal(t, ":1\r\n", run(e, "TTL", "k"))
}

func TestTTLStates(t *testing.T) {
	e, _, _ := newTestEngine(t)
	assert.Equal(t, ":-2\r\n", run(e, "TTL", "missing"))
	run(e, "SET", "k", "v")
	assert.Equal(t, ":-1\r\n", run(e, "TTL", "k"))
}

func TestSetOptions(t *testing.T) {
	e, p, _ := newTestEngine(t)
	assert.Equal(t, "+OK\r\n", run(e, "SET", "a", "1", "ex", "10"))
	assert.Equal(t, ":10\r\n", run(e, "TTL", "a"))
	assert.Equal(t, "+OK\r\n", run(e, "SET", "b", "1", "PX", "2500"))
	assert.Equal(t, ":3\r\n", run(e, "TTL", "b"))

	saves := len(p.snapshots)
	assert.Equal(t, "-ERR syntax error\r\n", run(e, "SET", "c", "1", "NX", "5"))
	assert.Equal(t, "-ERR syntax error\r\n", run(e, "SET", "c", "1", "EX"))
	assert.Len(t, p.snapshots, saves)
}

func TestDel(t *testing.T) {
	e, p, _ := newTestEngine(t)
	run(e, "SET", "k", "v")
	run(e, "EXPIRE", "k", "10")

	assert.Equal(t, ":1\r\n", run(e, "DEL", "k"))
	assert.Equal(t, "$-1\r\n", run(e, "GET", "k"))
	assert.Equal(t, ":-2\r\n", run(e, "TTL", "k"))
	assert.Empty(t, p.last().Values)
	assert.Empty(t, p.last().Deadlines)

	saves := len(p.snapshots)
	for range 3 {
		assert.Equal(t, ":0\r\n", run(e, "DEL", "k"))
	}
	assert.Len(t, p.snapshots, saves)
}

func TestDelExpiredKeyCountsAsAbsent(t *testing.T) {
	e, p, clock := newTestEngine(t)
	run(e, "SETEX", "k", "1", "v")
	clock.Advance(5 * time.Second)

	assert.Equal(t, ":0\r\n", run(e, "DEL", "k"))
	assert.Len(t, p.snapshots, 2)
}

func TestDelMultipleKeys(t *testing.T) {
	e, p, _ := newTestEngine(t)
	run(e, "SET", "a", "1")
	run(e, "SET", "b", "2")

	assert.Equal(t, ":2\r\n", run(e, "DEL", "a", "missing", "b"))
	assert.Len(t, p.snapshots, 3)
}

func TestKeys(t *testing.T) {
	e, _, clock := newTestEngine(t)
	run(e, "SET", "user:1", "a")
	run(e, "SET", "user:2", "b")
	run(e, "SET", "order:1", "c")
	run(e, "SETEX", "user:3", "1", "d")
	clock.Advance(time.Second)

	assert.Equal(t, "*3\r\n"+bulk("user:1")+bulk("user:2")+bulk("order:1"), run(e, "KEYS"))
	assert.Equal(t, "*2\r\n"+bulk("user:1")+bulk("user:2"), run(e, "KEYS", "user:*"))
	assert.Equal(t, "*1\r\n"+bulk("order:1"), run(e, "KEYS", "order:?"))
}

func TestKeysPatternDialect(t *testing.T) {
	e, _, _ := newTestEngine(t)
	run(e, "SET", "user:1", "a")
	run(e, "SET", "user:2", "b")
	run(e, "SET", "{a,b}", "c")
	run(e, "SET", "a", "d")

	assert.Equal(t, "*1\r\n"+bulk("user:2"), run(e, "KEYS", "user:[^1]*"))
	assert.Equal(t, "*1\r\n"+bulk("{a,b}"), run(e, "KEYS", "{a,b}"))
	assert.Equal(t, "*1\r\n"+bulk("{a,b}"), run(e, "KEYS", "{*}"))
}

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		pattern string
		match   []string
		noMatch []string
	}{
		{"h?llo", []string{"hello", "hallo"}, []string{"hllo", "heello"}},
		{"h*llo", []string{"hllo", "heeeello"}, []string{"hell"}},
		{"h[ae]llo", []string{"hello", "hallo"}, []string{"hillo"}},
		{"h[^e]llo", []string{"hallo", "hbllo"}, []string{"hello"}},
		{"h[a-b]llo", []string{"hallo", "hbllo"}, []string{"hcllo"}},
		{"{x}", []string{"{x}"}, []string{"x"}},
		{"a\\*", []string{"a*"}, []string{"ab"}},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			g, err := compilePattern(tt.pattern)
			require.NoError(t, err)
			for _, s := range tt.match {
				assert.True(t, g.Match(s), s)
			}
			for _, s := range tt.noMatch {
				assert.False(t, g.Match(s), s)
			}
		})
	}
}

func TestKeysSweepPersists(t *testing.T) {
	e, p, clock := newTestEngine(t)
	run(e, "SETEX", "k", "1", "v")
	run(e, "KEYS")
	assert.Len(t, p.snapshots, 1)

	clock.Advance(time.Second)
	run(e, "KEYS")
	assert.Len(t, p.snapshots, 2)
}

func TestFlushAll(t *testing.T) {
	e, p, _ := newTestEngine(t)
	run(e, "SET", "a", "1")
	run(e, "SETEX", "b", "10", "2")

	assert.Equal(t, "+OK\r\n", run(e, "FLUSHALL"))
	assert.Equal(t, "*0\r\n", run(e, "KEYS"))
	assert.Empty(t, p.last().Values)
	assert.Empty(t, p.last().Deadlines)

	// Flushing an empty store still writes a snapshot.
	saves := len(p.snapshots)
	run(e, "FLUSHALL")
	assert.Len(t, p.snapshots, saves+1)
}

func TestUnknownCommand(t *testing.T) {
	e, p, _ := newTestEngine(t)
	assert.Equal(t, "-ERR unknown command 'hgetall'\r\n", run(e, "HGETALL", "k"))
	assert.Equal(t, "-ERR empty command\r\n", string(e.Execute(nil)))
	assert.Empty(t, p.snapshots)
}

func TestWrongArity(t *testing.T) {
	e, p, _ := newTestEngine(t)
	cases := [][]string{
		{"GET"},
		{"GET", "a", "b"},
		{"SET", "k"},
		{"SETEX", "k", "10"},
		{"EXPIRE", "k"},
		{"TTL"},
		{"DEL"},
		{"FLUSHALL", "now"},
		{"KEYS", "a", "b"},
	}
	for _, args := range cases {
		want := fmt.Sprintf("-ERR wrong number of arguments for '%s' command\r\n", strings.ToLower(args[0]))
		assert.Equal(t, want, run(e, args...), "%v", args)
	}
	assert.Empty(t, p.snapshots)
}

func TestPingEchoCommand(t *testing.T) {
	e, _, _ := newTestEngine(t)
	assert.Equal(t, "+PONG\r\n", run(e, "PING"))
	assert.Equal(t, bulk("hi"), run(e, "PING", "hi"))
	assert.Equal(t, bulk("hello world"), run(e, "ECHO", "hello world"))
	assert.Equal(t, "*0\r\n", run(e, "COMMAND", "DOCS"))
}

func TestConfigGet(t *testing.T) {
	e, _, _ := newTestEngine(t)
	assert.Equal(t, "*2\r\n"+bulk("dir")+bulk("/data"), run(e, "CONFIG", "GET", "dir"))
	assert.Equal(t, "*4\r\n"+bulk("dbfilename")+bulk("redis_data.json")+bulk("dir")+bulk("/data"),
		run(e, "CONFIG", "GET", "d*"))
	assert.Equal(t, "*0\r\n", run(e, "CONFIG", "GET", "maxmemory"))
	assert.Equal(t, "-ERR unknown subcommand 'set'\r\n", run(e, "CONFIG", "SET", "dir", "/tmp"))
}

func TestInfo(t *testing.T) {
	e, _, _ := newTestEngine(t)
	run(e, "SET", "a", "1")
	run(e, "SETEX", "b", "10", "2")

	info := run(e, "INFO")
	assert.Contains(t, info, "# Server\n")
	assert.Contains(t, info, "tcp_port:6379")
	assert.Contains(t, info, "db0:keys=2,expires=1")
	assert.Contains(t, info, "snapshot_saves:2")

	keyspace := run(e, "INFO", "keyspace")
	assert.NotContains(t, keyspace, "# Server")
	assert.Contains(t, keyspace, "# Keyspace")
}

func TestSaveFailureDoesNotFailCommand(t *testing.T) {
	e, p, _ := newTestEngine(t)
	p.err = errors.New("disk full")

	assert.Equal(t, "+OK\r\n", run(e, "SET", "k", "v"))
	assert.Equal(t, bulk("v"), run(e, "GET", "k"))
	assert.Equal(t, "-ERR failed to save snapshot\r\n", run(e, "SAVE"))

	stats := e.Stats()
	assert.Equal(t, uint64(2), stats.SaveFailures)
	assert.Equal(t, "disk full", stats.LastSaveError)
	assert.Zero(t, stats.Saves)

	p.err = nil
	assert.Equal(t, "+OK\r\n", run(e, "SAVE"))
	stats = e.Stats()
	assert.Equal(t, uint64(1), stats.Saves)
	assert.Empty(t, stats.LastSaveError)
	assert.Equal(t, 1, stats.Keys)
}

func TestSweepExpired(t *testing.T) {
	e, p, clock := newTestEngine(t)
	run(e, "SETEX", "a", "1", "x")
	run(e, "SETEX", "b", "5", "y")
	run(e, "SET", "c", "z")
	saves := len(p.snapshots)

	assert.Zero(t, e.SweepExpired())
	assert.Len(t, p.snapshots, saves)

	clock.Advance(time.Second)
	assert.Equal(t, 1, e.SweepExpired())
	assert.Len(t, p.snapshots, saves+1)
	assert.Equal(t, map[string]int64{"b": p.last().Deadlines["b"]}, p.last().Deadlines)
	assert.Len(t, p.last().Values, 2)
}

func TestSnapshotWrittenUnderLock(t *testing.T) {
	e, p, clock := newTestEngine(t)
	run(e, "SET", "a", "1")
	run(e, "SETEX", "b", "1", "2")
	clock.Advance(time.Second)
	e.SweepExpired()
	require.NoError(t, e.Save())

	assert.Len(t, p.snapshots, 4)
	assert.Zero(t, p.unlocked)
}

func TestConcurrentCommands(t *testing.T) {
	e, p, _ := newTestEngine(t)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 10 {
				run(e, "SET", fmt.Sprintf("k%d-%d", i, j), "v")
			}
		}()
	}
	wg.Wait()

	assert.Len(t, p.snapshots, 200)
	assert.Len(t, p.last().Values, 200)
	assert.Equal(t, uint64(200), e.Stats().Commands)
}

func TestRestartRecoversState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redis_data.json")

	first := New(store.NewInMemoryStore(), persistence.NewJSONFile(path, false))
	assert.Equal(t, "+OK\r\n", run(first, "SET", "a", "1"))
	assert.Equal(t, "+OK\r\n", run(first, "SETEX", "b", "100", `{"x":[1,2]}`))

	st := store.NewInMemoryStore()
	st.Restore(persistence.LoadOrEmpty(persistence.NewJSONFile(path, false)))
	second := New(st, persistence.NewJSONFile(path, false))

	assert.Equal(t, bulk("1"), run(second, "GET", "a"))
	assert.Equal(t, bulk(`{"x":[1,2]}`), run(second, "GET", "b"))
	assert.Equal(t, ":100\r\n", run(second, "TTL", "b"))

	run(second, "FLUSHALL")
	snap, err := persistence.NewJSONFile(path, false).Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Values)
}

func TestEmptyKeyRejected(t *testing.T) {
	e, p, _ := newTestEngine(t)
	assert.Equal(t, "-ERR empty key\r\n", run(e, "SET", "", "x"))
	assert.Equal(t, "-ERR empty key\r\n", run(e, "SET", "", "x", "EX", "10"))
	assert.Equal(t, "-ERR empty key\r\n", run(e, "SETEX", "", "10", "x"))
	assert.Equal(t, "*0\r\n", run(e, "KEYS"))
	assert.Empty(t, p.snapshots)
}

func TestBoltRestartAfterEmptyKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.db")

	b, err := persistence.OpenBolt(path)
	require.NoError(t, err)
	first := New(store.NewInMemoryStore(), b)
	run(first, "SET", "", "x")
	assert.Equal(t, "+OK\r\n", run(first, "SET", "a", "1"))
	assert.Zero(t, first.Stats().SaveFailures)
	require.NoError(t, b.Close())

	b, err = persistence.OpenBolt(path)
	require.NoError(t, err)
	defer b.Close()
	st := store.NewInMemoryStore()
	st.Restore(persistence.LoadOrEmpty(b))
	second := New(st, b)
	assert.Equal(t, bulk("1"), run(second, "GET", "a"))
}
