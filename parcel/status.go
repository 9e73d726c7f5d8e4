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

package parcel

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the lifecycle state of a parcel
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusDisputed Status = "disputed"
)

var ErrInvalidStatus = errors.New("invalid parcel status")

// Statuses lists every known status in display order
var Statuses = []Status{
	StatusPending,
	StatusApproved,
	StatusRejected,
	StatusDisputed,
}

// Valid returns true if the Status is a known value
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusDisputed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for every status other than pending. Nothing moves
// a terminal parcel back to pending.
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus converts a case-insensitive status name into a Status
func ParseStatus(val string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(val)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, val)
	}
	return s, nil
}

// CanTransition reports whether a parcel may move from one status to another.
// Any status may become disputed; only pending parcels may be approved or
// rejected.
func CanTransition(from Status, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	switch to {
	case StatusDisputed:
		return true
	case StatusApproved, StatusRejected:
		return from == StatusPending || from == to
	default:
		return from == to
	}
}
