// Package ratelimit provides the Router's per-agent and per-provider
// token-bucket throttles: 60 messages/minute per agent on the local
// route path, 120/minute per provider on federation in-bound delivery.
package ratelimit

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// shardCount bounds lock contention on the limiter map, per spec.md §5's
// "lock-free sharded counters acceptable" guidance — each shard still
// has its own mutex, but keys hash across shardCount of them.
const shardCount = 16

// purgeEvery triggers a sweep of untouched limiters every N Allow calls,
// per spec.md §4.F's "periodic (every 100 checks) purge".
const purgeEvery = 100

// purgeAfter is how long a limiter may sit untouched before a purge
// sweep evicts it.
const purgeAfter = 10 * time.Minute

type entry struct {
	limiter    *rate.Limiter
	lastSeen   time.Time
	windowMax  int
	windowSecs int
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Limiter is a keyed set of token buckets, one per distinct key (agent
// id or provider name), each refilling to ratePerWindow tokens every
// window.
type Limiter struct {
	shards     [shardCount]*shard
	ratePer    int
	window     time.Duration
	checkCount uint64
	checkMu    sync.Mutex
}

// New builds a Limiter allowing ratePerWindow events per window for each
// distinct key.
func New(ratePerWindow int, window time.Duration) *Limiter {
	l := &Limiter{ratePer: ratePerWindow, window: window}
	for i := range l.shards {
		l.shards[i] = &shard{entries: map[string]*entry{}}
	}
	return l
}

func (l *Limiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()%shardCount]
}

// Allow reports whether key may proceed now, consuming one token if so.
func (l *Limiter) Allow(key string) bool {
	l.maybePurge()

	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		perSecond := rate.Limit(float64(l.ratePer) / l.window.Seconds())
		e = &entry{limiter: rate.NewLimiter(perSecond, l.ratePer)}
		s.entries[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow()
}

// Reset returns the duration until key's bucket will next admit an
// event, for X-RateLimit-Reset.
func (l *Limiter) Reset(key string) time.Duration {
	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return 0
	}
	r := e.limiter.Reserve()
	defer r.Cancel()
	return r.Delay()
}

// Remaining reports the approximate number of tokens currently available
// for key, for X-RateLimit-Remaining headers.
func (l *Limiter) Remaining(key string) int {
	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return l.ratePer
	}
	return int(e.limiter.Tokens())
}

func (l *Limiter) maybePurge() {
	l.checkMu.Lock()
	l.checkCount++
	due := l.checkCount%purgeEvery == 0
	l.checkMu.Unlock()
	if !due {
		return
	}
	cutoff := time.Now().Add(-purgeAfter)
	for _, s := range l.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if e.lastSeen.Before(cutoff) {
				delete(s.entries, k)
			}
		}
		s.mu.Unlock()
	}
}

// Headers renders the standard X-RateLimit-* response header values for
// key, after a call to Allow.
func Headers(l *Limiter, key string, limit int) map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     fmt.Sprintf("%d", limit),
		"X-RateLimit-Remaining": fmt.Sprintf("%d", l.Remaining(key)),
		"X-RateLimit-Reset":     fmt.Sprintf("%d", int(l.Reset(key).Seconds())),
	}
}
