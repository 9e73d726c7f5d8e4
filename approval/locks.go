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

package approval

import "sync"

// ParcelLocks hands out one mutex per parcel id. Entries are dropped once
// no goroutine holds or waits on them.
type ParcelLocks struct {
	locks map[uint64]*parcelLock
	mu    sync.Mutex
}

type parcelLock struct {
	mu   sync.Mutex
	refs int
}

func NewParcelLocks() *ParcelLocks {
	return &ParcelLocks{
		locks: make(map[uint64]*parcelLock),
	}
}

// Lock blocks until the lock for id is held and returns its release func
func (l *ParcelLocks) Lock(id uint64) func() {
	l.mu.Lock()
	pl, ok := l.locks[id]
	if !ok {
		pl = &parcelLock{}
		l.locks[id] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			pl.mu.Unlock()
			l.mu.Lock()
			pl.refs--
			if pl.refs == 0 {
				delete(l.locks, id)
			}
			l.mu.Unlock()
		})
	}
}

// Len returns the number of ids currently locked or awaited
func (l *ParcelLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
