package agent

import (
	"sync"
	"time"
)

// KeyPool rotates model API keys. A key the model service reports as rate
// limited cools down before it is handed out again.
type KeyPool struct {
	mu       sync.Mutex
	keys     []string
	cooling  map[string]time.Time
	next     int
	cooldown time.Duration
	now      func() time.Time
}

// NewKeyPool builds a pool. Empty keys are dropped.
func NewKeyPool(keys []string, cooldown time.Duration) *KeyPool {
	p := &KeyPool{
		cooling:  make(map[string]time.Time),
		cooldown: cooldown,
		now:      time.Now,
	}
	for _, k := range keys {
		if k != "" {
			p.keys = append(p.keys, k)
		}
	}
	return p
}

// Len returns the number of keys.
func (p *KeyPool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Acquire returns the next key that is neither cooling down nor in exclude.
func (p *KeyPool) Acquire(exclude map[string]bool) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for i := 0; i < len(p.keys); i++ {
		idx := (p.next + i) % len(p.keys)
		key := p.keys[idx]
		if exclude[key] {
			continue
		}
		if until, ok := p.cooling[key]; ok {
			if now.Before(until) {
				continue
			}
			delete(p.cooling, key)
		}
		p.next = (idx + 1) % len(p.keys)
		return key, true
	}
	return "", false
}

// Release returns key to the pool. An exhausted key starts cooling down.
func (p *KeyPool) Release(key string, exhausted bool) {
	if !exhausted || key == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cooling[key] = p.now().Add(p.cooldown)
}
