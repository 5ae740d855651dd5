// Package keypool rotates SAM.gov API keys under per-key daily quotas.
package keypool

import (
	"errors"
	"sync"
	"time"

	"github.com/david/bid-intel/internal/metrics"
	"go.uber.org/zap"
)

var (
	ErrNoCredentials    = errors.New("no API credentials configured")
	ErrQuotaExceeded    = errors.New("daily request quota exceeded for all credentials")
	ErrAllKeysExhausted = errors.New("all API credentials are disabled")
)

// DefaultDisabledTTL is how long a key reported as disabled stays out of
// rotation.
const DefaultDisabledTTL = time.Hour

// Credential is a snapshot handed out by Acquire. Mutating it has no effect
// on the pool.
type Credential struct {
	Key           string    `json:"-"`
	Index         int       `json:"index"`
	DailyQuota    int       `json:"daily_quota"`
	UsedToday     int       `json:"used_today"`
	InFlight      int       `json:"in_flight"`
	Disabled      bool      `json:"disabled"`
	DisabledUntil time.Time `json:"disabled_until,omitempty"`
}

type slot struct {
	key           string
	day           string
	used          int
	reserved      int // acquired, not yet reported
	disabledUntil time.Time
}

type Pool struct {
	mu          sync.Mutex
	slots       []*slot
	next        int
	quota       int
	disabledTTL time.Duration
	now         func() time.Time
	log         *zap.Logger
}

type Option func(*Pool)

func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

func WithDisabledTTL(ttl time.Duration) Option {
	return func(p *Pool) {
		if ttl > 0 {
			p.disabledTTL = ttl
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.log = l.Named("keypool")
		}
	}
}

// New builds a pool over keys in rotation order. dailyQuota applies to each
// key individually.
func New(keys []string, dailyQuota int, opts ...Option) (*Pool, error) {
	p := &Pool{
		quota:       dailyQuota,
		disabledTTL: DefaultDisabledTTL,
		now:         time.Now,
		log:         zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}

	for _, k := range keys {
		if k == "" {
			continue
		}
		p.slots = append(p.slots, &slot{key: k})
	}
	if len(p.slots) == 0 {
		return nil, ErrNoCredentials
	}
	if p.quota <= 0 {
		p.quota = 10
	}
	return p, nil
}

// Size is the number of configured credentials. It bounds rotation loops.
func (p *Pool) Size() int {
	return len(p.slots)
}

// Acquire returns the next usable credential in round-robin order, skipping
// keys that are disabled or already at quota. The returned credential holds
// one unit of quota until the caller reports it with ReportSuccess,
// ReportDisabled or Release. It never performs I/O.
func (p *Pool) Acquire() (*Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	today := dayKey(now)
	enabled := 0

	for i := 0; i < len(p.slots); i++ {
		idx := (p.next + i) % len(p.slots)
		s := p.slots[idx]
		if now.Before(s.disabledUntil) {
			continue
		}
		enabled++
		s.rollover(today)
		if s.used+s.reserved >= p.quota {
			continue
		}
		s.reserved++
		p.next = (idx + 1) % len(p.slots)
		metrics.KeyPoolEvents.WithLabelValues("acquire").Inc()
		return p.snapshot(idx, now), nil
	}

	if enabled == 0 {
		metrics.KeyPoolEvents.WithLabelValues("exhausted").Inc()
		p.log.Warn("all credentials disabled", zap.Int("credentials", len(p.slots)))
		return nil, ErrAllKeysExhausted
	}
	metrics.KeyPoolEvents.WithLabelValues("quota").Inc()
	p.log.Warn("daily quota reached on every enabled credential",
		zap.Int("enabled", enabled), zap.Int("quota", p.quota))
	return nil, ErrQuotaExceeded
}

// ReportSuccess counts one successful request against c's daily quota.
func (p *Pool) ReportSuccess(c *Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.lookup(c)
	if s == nil {
		return
	}
	s.rollover(dayKey(p.now()))
	s.settle()
	s.used++
	metrics.KeyPoolEvents.WithLabelValues("success").Inc()
}

// Release returns c's reserved unit without counting a request, for calls
// that ended before the upstream accepted them.
func (p *Pool) Release(c *Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s := p.lookup(c); s != nil {
		s.settle()
	}
}

// ReportDisabled takes c out of rotation for the disabled TTL. Callers that
// Acquire after this returns never receive c until the TTL elapses.
func (p *Pool) ReportDisabled(c *Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.lookup(c)
	if s == nil {
		return
	}
	s.settle()
	s.disabledUntil = p.now().Add(p.disabledTTL)
	metrics.KeyPoolEvents.WithLabelValues("disabled").Inc()
	p.log.Warn("credential disabled",
		zap.Int("index", c.Index),
		zap.Time("until", s.disabledUntil))
}

// Status returns a snapshot of every credential, in rotation order.
func (p *Pool) Status() []Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make([]Credential, 0, len(p.slots))
	for i := range p.slots {
		out = append(out, *p.snapshot(i, now))
	}
	return out
}

func (p *Pool) lookup(c *Credential) *slot {
	if c == nil || c.Index < 0 || c.Index >= len(p.slots) {
		return nil
	}
	s := p.slots[c.Index]
	if s.key != c.Key {
		return nil
	}
	return s
}

func (p *Pool) snapshot(idx int, now time.Time) *Credential {
	s := p.slots[idx]
	used, reserved := s.used, s.reserved
	if s.day != dayKey(now) {
		used, reserved = 0, 0
	}
	c := &Credential{
		Key:        s.key,
		Index:      idx,
		DailyQuota: p.quota,
		UsedToday:  used,
		InFlight:   reserved,
	}
	if now.Before(s.disabledUntil) {
		c.Disabled = true
		c.DisabledUntil = s.disabledUntil
	}
	return c
}

func (s *slot) rollover(today string) {
	if s.day != today {
		s.day = today
		s.used = 0
		s.reserved = 0
	}
}

func (s *slot) settle() {
	if s.reserved > 0 {
		s.reserved--
	}
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
