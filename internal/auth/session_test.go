package auth_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/multidoc/gateway/internal/auth"
	"github.com/multidoc/gateway/internal/model"

	"github.com/stretchr/testify/require"
)

type clock struct {
	now atomic.Int64
}

func newClock() *clock {
	c := &clock{}
	c.now.Store(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	return c
}

func (c *clock) Now() time.Time {
	return time.Unix(0, c.now.Load()).UTC()
}

func (c *clock) Add(d time.Duration) {
	c.now.Add(int64(d))
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	clk := newClock()
	store, err := auth.NewMemoryStore(time.Hour)
	require.NoError(t, err)
	store.WithClock(clk.Now)
	ctx := t.Context()

	s, err := store.Login(ctx, "admin")
	require.NoError(t, err)
	require.NotEmpty(t, s.Token)
	require.Equal(t, "admin", s.Username)
	require.Equal(t, clk.Now().Add(time.Hour), s.Expires)

	got, ok := store.Lookup(ctx, s.Token)
	require.True(t, ok)
	require.Equal(t, s, got)

	_, ok = store.Lookup(ctx, "unknown")
	require.False(t, ok)
	_, ok = store.Lookup(ctx, "")
	require.False(t, ok)

	other, err := store.Login(ctx, "admin")
	require.NoError(t, err)
	require.NotEqual(t, s.Token, other.Token)

	store.Logout(ctx, other.Token)
	_, ok = store.Lookup(ctx, other.Token)
	require.False(t, ok)

	clk.Add(time.Hour)
	_, ok = store.Lookup(ctx, s.Token)
	require.False(t, ok, "session must expire after ttl")
	require.Zero(t, store.Len())

	_, err = store.Login(ctx, "")
	require.Error(t, err)
}

func TestMemoryStore_Sweep(t *testing.T) {
	t.Parallel()
	clk := newClock()
	store, err := auth.NewMemoryStore(time.Minute)
	require.NoError(t, err)
	store.WithClock(clk.Now)
	ctx := t.Context()

	_, err = store.Login(ctx, "first")
	require.NoError(t, err)
	clk.Add(30 * time.Second)
	second, err := store.Login(ctx, "second")
	require.NoError(t, err)

	require.Zero(t, store.Sweep(clk.Now()))
	require.Equal(t, 1, store.Sweep(clk.Now().Add(45*time.Second)))
	require.Equal(t, 1, store.Len())
	_, ok := store.Lookup(ctx, second.Token)
	require.True(t, ok)
}

func TestMemoryStore_Concurrent(t *testing.T) {
	t.Parallel()
	store, err := auth.NewMemoryStore(time.Hour)
	require.NoError(t, err)
	ctx := t.Context()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := store.Login(ctx, "admin")
			if err != nil {
				return
			}
			store.Lookup(ctx, s.Token)
			store.Sweep(time.Now())
			store.Logout(ctx, s.Token)
		}()
	}
	wg.Wait()
	require.Zero(t, store.Len())
}

func TestNewMemoryStore_Fail(t *testing.T) {
	t.Parallel()
	_, err := auth.NewMemoryStore(0)
	require.ErrorIs(t, err, auth.ErrSessionTTL)
}

func TestSweeper(t *testing.T) {
	t.Parallel()
	clk := newClock()
	store, err := auth.NewMemoryStore(time.Minute)
	require.NoError(t, err)
	store.WithClock(clk.Now)

	_, err = store.Login(t.Context(), "admin")
	require.NoError(t, err)
	clk.Add(2 * time.Minute)

	sweeper, err := auth.NewSweeper(t.Context(), &model.Schedule{Duration: "1s"}, store)
	require.NoError(t, err)
	sweeper.Start()
	t.Cleanup(func() {
		require.NoError(t, sweeper.Shutdown())
	})

	require.Eventually(t, func() bool {
		return store.Len() == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSweeper_Cron(t *testing.T) {
	t.Parallel()
	clk := newClock()
	store, err := auth.NewMemoryStore(time.Minute)
	require.NoError(t, err)
	store.WithClock(clk.Now)

	_, err = store.Login(t.Context(), "admin")
	require.NoError(t, err)
	clk.Add(2 * time.Minute)

	sweeper, err := auth.NewSweeper(t.Context(), &model.Schedule{Cron: "@every 1s"}, store)
	require.NoError(t, err)
	sweeper.Start()
	t.Cleanup(func() {
		require.NoError(t, sweeper.Shutdown())
	})

	require.Eventually(t, func() bool {
		return store.Len() == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestNewSweeper_Fail(t *testing.T) {
	t.Parallel()
	store, err := auth.NewMemoryStore(time.Minute)
	require.NoError(t, err)

	var testCases = []struct {
		scenario string
		given    *model.Schedule
		err      string
	}{
		{"empty", &model.Schedule{}, "both cron and duration are empty"},
		{"bad cron", &model.Schedule{Cron: "* * *"}, "parsing auth.sweep.cron"},
		{"bad duration", &model.Schedule{Duration: "soon"}, "parsing auth.sweep.duration"},
		{"zero duration", &model.Schedule{Duration: "0s"}, "must be positive"},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			_, err := auth.NewSweeper(t.Context(), tc.given, store)
			require.ErrorContains(t, err, tc.err)
		})
	}

	s, err := auth.NewSweeper(t.Context(), nil, store)
	require.NoError(t, err)
	require.NoError(t, s.Shutdown())
}
