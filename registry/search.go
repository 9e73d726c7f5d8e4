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

package registry

import (
	"slices"
	"strconv"
	"strings"

	"github.com/blinklabs-io/landregistry/parcel"
)

// SearchFilters are AND-combined. Empty fields impose no constraint.
type SearchFilters struct {
	// KhasraID matches the decimal parcel id exactly
	KhasraID string
	// District matches exactly
	District string
	// Tehsil, Village, KhasraNumber and OwnerName are case-insensitive
	// substring matches
	Tehsil       string
	Village      string
	KhasraNumber string
	OwnerName    string
	// Statuses matches any of the listed statuses when non-empty
	Statuses []parcel.Status
}

// IsEmpty reports whether the filters match every parcel
func (f SearchFilters) IsEmpty() bool {
	return f.KhasraID == "" &&
		f.District == "" &&
		f.Tehsil == "" &&
		f.Village == "" &&
		f.KhasraNumber == "" &&
		f.OwnerName == "" &&
		len(f.Statuses) == 0
}

func containsFold(haystack string, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// Matches reports whether the parcel satisfies every filter
func (f SearchFilters) Matches(p parcel.Parcel) bool {
	if f.KhasraID != "" && strconv.FormatUint(p.ID, 10) != f.KhasraID {
		return false
	}
	if f.District != "" && p.District != f.District {
		return false
	}
	if f.Tehsil != "" && !containsFold(p.Tehsil, f.Tehsil) {
		return false
	}
	if f.Village != "" && !containsFold(p.Village, f.Village) {
		return false
	}
	if f.KhasraNumber != "" && !containsFold(p.KhasraNumber, f.KhasraNumber) {
		return false
	}
	if f.OwnerName != "" && !containsFold(p.OwnerName, f.OwnerName) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, p.Status) {
		return false
	}
	return true
}

// Search returns copies of the matching parcels in insertion order
func (r *Registry) Search(filters SearchFilters) []parcel.Parcel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]parcel.Parcel, 0, len(r.parcels))
	for _, p := range r.parcels {
		if filters.Matches(p) {
			ret = append(ret, p.Clone())
		}
	}
	return ret
}
