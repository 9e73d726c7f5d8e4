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

// Package testutil holds helpers shared by package tests
package testutil

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/blinklabs-io/landregistry/database/types"
	"github.com/blinklabs-io/landregistry/parcel"
)

// MapStore is an in-memory key/value store with switchable save failures
type MapStore struct {
	data    map[string][]byte
	saveErr error
	mu      sync.Mutex
}

func NewMapStore() *MapStore {
	return &MapStore{data: make(map[string][]byte)}
}

func (s *MapStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("load %s: %w", key, types.ErrBlobKeyNotFound)
	}
	return val, nil
}

func (s *MapStore) Save(_ context.Context, key string, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.data[key] = val
	return nil
}

// FailSaves makes every following Save return err. A nil err clears it.
func (s *MapStore) FailSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// Snapshot returns a copy of the stored values
func (s *MapStore) Snapshot() map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.data)
}

// LandData returns valid land data for a parcel with the given khasra number
func LandData(khasraNumber string) parcel.LandData {
	return parcel.LandData{
		KhasraNumber: khasraNumber,
		OwnerName:    "Asha Verma",
		OwnerWallet:  "0xAsha",
		District:     "Raipur",
		Tehsil:       "Arang",
		Village:      "Mandir Hasaud",
		Area:         4046.86,
	}
}

// RequireReceive waits for a value on the given channel or fails the test
// if the timeout expires
func RequireReceive[T any](
	t *testing.T,
	ch <-chan T,
	timeout time.Duration,
	msg string,
) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatalf("timeout waiting for channel receive: %s", msg)
		var zero T
		return zero // unreachable
	}
}
