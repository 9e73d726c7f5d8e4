// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

// walletLimiter applies a token bucket per wallet and evicts idle entries
type walletLimiter struct {
	byKey map[string]*limiterEntry
	limit rate.Limit
	burst int
	hits  uint64
	mu    sync.Mutex
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newWalletLimiter returns nil, which allows everything, when rps or burst
// is not positive
func newWalletLimiter(rps float64, burst int) *walletLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &walletLimiter{
		byKey: make(map[string]*limiterEntry),
		limit: rate.Limit(rps),
		burst: burst,
	}
}

func (l *walletLimiter) Allow(wallet string, now time.Time) bool {
	if l == nil {
		return true
	}
	key := strings.ToLower(strings.TrimSpace(wallet))
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.byKey[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)
	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-limiterIdleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return allowed
}
