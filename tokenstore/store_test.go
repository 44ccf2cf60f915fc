package tokenstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestStoreSetStampsExpiryFromMaxAge(t *testing.T) {
	clock := newClock()
	s := NewStore(NewMemoryStorage(), KindAccess, 30*time.Minute, clock.Now)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "T1"))
	rec, err := s.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "T1", rec.Value)
	assert.Equal(t, clock.Now().Add(30*time.Minute), rec.ExpiresAt)
}

func TestStoreSetEmptyClears(t *testing.T) {
	s := NewStore(NewMemoryStorage(), KindRefresh, time.Hour, nil)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "R1"))
	require.NoError(t, s.Set(ctx, ""))
	rec, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStoreIsExpiredSkewBoundary(t *testing.T) {
	clock := newClock()
	s := NewStore(NewMemoryStorage(), KindAccess, time.Minute, clock.Now)
	rec := &Record{Value: "T", ExpiresAt: clock.Now().Add(DefaultSkew + time.Second)}

	assert.False(t, s.IsExpired(rec, DefaultSkew))
	clock.Advance(time.Second)
	assert.True(t, s.IsExpired(rec, DefaultSkew), "expiresAt - skew == now counts as expired")
	assert.True(t, s.IsExpired(nil, DefaultSkew))
	assert.True(t, s.IsExpired(&Record{Value: "T"}, 0), "zero deadline is expired")
}

func TestIsExpiredMonotonic(t *testing.T) {
	base := newClock().Now()
	rec := &Record{Value: "T", ExpiresAt: base.Add(time.Minute)}

	for _, skew := range []time.Duration{0, time.Second, DefaultSkew, time.Minute, 2 * time.Minute} {
		seenExpired := false
		for step := -3 * time.Minute; step <= 3*time.Minute; step += 250 * time.Millisecond {
			expired := IsExpiredAt(rec, skew, base.Add(step))
			if seenExpired {
				require.True(t, expired, "un-expired at skew=%s step=%s", skew, step)
			}
			seenExpired = seenExpired || expired
		}
		assert.True(t, seenExpired)
	}
}

func TestStorePutAndClear(t *testing.T) {
	mem := NewMemoryStorage()
	s := NewStore(mem, KindAccess, time.Minute, nil)
	ctx := context.Background()
	deadline := time.UnixMilli(1_900_000_000_000)

	require.NoError(t, s.Put(ctx, &Record{Value: "adopted", ExpiresAt: deadline}))
	rec, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, deadline, rec.ExpiresAt)
	assert.Equal(t, 1, mem.Len())

	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, 0, mem.Len())
}

func TestMemoryStorageReturnsCopies(t *testing.T) {
	mem := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, mem.Save(ctx, KindAccess, &Record{Value: "a"}))

	rec, err := mem.Load(ctx, KindAccess)
	require.NoError(t, err)
	rec.Value = "mutated"

	again, err := mem.Load(ctx, KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Value)

	mem.Reset()
	gone, err := mem.Load(ctx, KindAccess)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"":             ModeCookie,
		"cookie":       ModeCookie,
		"localStorage": ModeLocal,
		"local":        ModeLocal,
		"MEMORY":       ModeMemory,
	}
	for in, want := range cases {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMode("session")
	assert.Error(t, err)
}

func TestOpenValidatesInputs(t *testing.T) {
	_, err := Open(ModeCookie, nil, DefaultNames())
	assert.Error(t, err)

	names := DefaultNames()
	names.Refresh = names.Access
	_, err = Open(ModeMemory, nil, names)
	assert.Error(t, err)

	st, err := Open(ModeMemory, nil, DefaultNames())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, st)
}
