package keypool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)}
}

func TestNew_NoCredentials(t *testing.T) {
	_, err := New(nil, 10)
	assert.ErrorIs(t, err, ErrNoCredentials)

	_, err = New([]string{"", ""}, 10)
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestAcquire_RoundRobin(t *testing.T) {
	p, err := New([]string{"a", "b", "c"}, 100)
	require.NoError(t, err)

	var got []string
	for i := 0; i < 6; i++ {
		c, err := p.Acquire()
		require.NoError(t, err)
		got = append(got, c.Key)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, got)
}

func TestReportDisabled_SkippedUntilTTL(t *testing.T) {
	clock := newClock()
	p, err := New([]string{"a", "b"}, 100, WithClock(clock.Now), WithDisabledTTL(time.Hour))
	require.NoError(t, err)

	a, err := p.Acquire()
	require.NoError(t, err)
	require.Equal(t, "a", a.Key)
	p.ReportDisabled(a)

	for i := 0; i < 5; i++ {
		c, err := p.Acquire()
		require.NoError(t, err)
		assert.Equal(t, "b", c.Key, "disabled key must not be handed out")
	}

	clock.Advance(59 * time.Minute)
	c, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, "b", c.Key)

	clock.Advance(time.Minute)
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		c, err := p.Acquire()
		require.NoError(t, err)
		seen[c.Key] = true
	}
	assert.True(t, seen["a"], "key returns to rotation once the TTL elapses")
}

func TestAcquire_AllKeysExhausted(t *testing.T) {
	p, err := New([]string{"a", "b"}, 100)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		c, err := p.Acquire()
		require.NoError(t, err)
		p.ReportDisabled(c)
	}

	_, err = p.Acquire()
	assert.ErrorIs(t, err, ErrAllKeysExhausted)
}

func TestAcquire_QuotaFailsFast(t *testing.T) {
	clock := newClock()
	p, err := New([]string{"a", "b"}, 2, WithClock(clock.Now))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		c, err := p.Acquire()
		require.NoError(t, err)
		p.ReportSuccess(c)
	}

	_, err = p.Acquire()
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	clock.Advance(24 * time.Hour)
	c, err := p.Acquire()
	require.NoError(t, err, "counters reset on a new UTC day")
	assert.Equal(t, 0, c.UsedToday)
}

func TestAcquire_QuotaOnOneKeyRotatesToOther(t *testing.T) {
	p, err := New([]string{"a", "b"}, 1)
	require.NoError(t, err)

	a, err := p.Acquire()
	require.NoError(t, err)
	p.ReportSuccess(a)

	for i := 0; i < 3; i++ {
		c, err := p.Acquire()
		require.NoError(t, err)
		assert.Equal(t, "b", c.Key)
		p.Release(c)
	}
}

func TestAcquire_ReservesQuotaUntilReported(t *testing.T) {
	p, err := New([]string{"k1"}, 1)
	require.NoError(t, err)

	c, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 1, c.InFlight)

	_, err = p.Acquire()
	assert.ErrorIs(t, err, ErrQuotaExceeded, "the only unit of quota is already held")

	p.Release(c)
	c, err = p.Acquire()
	require.NoError(t, err, "a released unit can be acquired again")

	p.ReportSuccess(c)
	_, err = p.Acquire()
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	st := p.Status()[0]
	assert.Equal(t, 1, st.UsedToday)
	assert.Equal(t, 0, st.InFlight)
}

func TestAcquire_ConcurrentCallersNeverExceedQuota(t *testing.T) {
	p, err := New([]string{"a", "b"}, 10)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if _, err := p.Acquire(); err == nil {
					mu.Lock()
					granted++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, granted)
}

func TestReportDisabled_ReleasesReservation(t *testing.T) {
	clock := newClock()
	p, err := New([]string{"a"}, 1, WithClock(clock.Now), WithDisabledTTL(time.Minute))
	require.NoError(t, err)

	c, err := p.Acquire()
	require.NoError(t, err)
	p.ReportDisabled(c)

	clock.Advance(time.Minute)
	_, err = p.Acquire()
	assert.NoError(t, err, "a disabled call does not consume quota")
}

func TestReportSuccess_ConcurrentIncrementsAreNotLost(t *testing.T) {
	p, err := New([]string{"a"}, 1_000_000)
	require.NoError(t, err)

	c, err := p.Acquire()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.ReportSuccess(c)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5000, p.Status()[0].UsedToday)
}

func TestReportDisabled_ConcurrentAcquireNeverSeesDisabledKey(t *testing.T) {
	p, err := New([]string{"a", "b", "c"}, 1_000_000)
	require.NoError(t, err)

	first, err := p.Acquire()
	require.NoError(t, err)
	p.ReportDisabled(first)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var leaked []string
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c, err := p.Acquire()
				if err != nil {
					continue
				}
				if c.Key == first.Key {
					mu.Lock()
					leaked = append(leaked, c.Key)
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	assert.Empty(t, leaked)
}

func TestReport_IgnoresForeignCredential(t *testing.T) {
	p, err := New([]string{"a"}, 10)
	require.NoError(t, err)

	p.ReportDisabled(&Credential{Key: "zzz", Index: 0})
	p.ReportSuccess(&Credential{Key: "a", Index: 7})
	p.ReportSuccess(nil)

	st := p.Status()
	require.Len(t, st, 1)
	assert.False(t, st[0].Disabled)
	assert.Equal(t, 0, st[0].UsedToday)
}
