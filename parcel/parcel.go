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
	"slices"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var ErrInvalidParcel = errors.New("invalid parcel")

// DefaultDistricts is the district list offered to registrants
var DefaultDistricts = []string{
	"Raipur",
	"Durg",
	"Bilaspur",
	"Korba",
	"Rajnandgaon",
}

// Date is a civil date in YYYY-MM-DD form
type Date string

// NewDate returns the UTC civil date of t
func NewDate(t time.Time) Date {
	return Date(t.UTC().Format(dateLayout))
}

// Time parses the date, returning midnight UTC
func (d Date) Time() (time.Time, error) {
	return time.Parse(dateLayout, string(d))
}

func (d Date) String() string {
	return string(d)
}

// Parcel is a registered unit of land and its administrative metadata
type Parcel struct {
	KhasraNumber string     `json:"khasraNumber"`
	OwnerName    string     `json:"ownerName"`
	OwnerWallet  string     `json:"ownerWallet"`
	District     string     `json:"district"`
	Tehsil       string     `json:"tehsil"`
	Village      string     `json:"village"`
	Status       Status     `json:"status"`
	CreatedDate  Date       `json:"createdDate"`
	DocumentCID  string     `json:"documentCID,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	Approvals    []Approval `json:"approvals,omitempty"`
	Area         float64    `json:"area"`
	ID           uint64     `json:"id"`
}

// Clone returns a deep copy so that callers never share the approvals
// backing array with the original
func (p Parcel) Clone() Parcel {
	ret := p
	if p.Approvals != nil {
		ret.Approvals = slices.Clone(p.Approvals)
	}
	return ret
}

// AreaHectares returns the parcel area converted from square meters
func (p Parcel) AreaHectares() float64 {
	return p.Area / 10000
}

// Validate checks the fields shared by new and updated parcels
func (p *Parcel) Validate() error {
	var errs []error
	if strings.TrimSpace(p.KhasraNumber) == "" {
		errs = append(errs, errors.New("khasra number is required"))
	}
	if strings.TrimSpace(p.OwnerName) == "" {
		errs = append(errs, errors.New("owner name is required"))
	}
	if strings.TrimSpace(p.District) == "" {
		errs = append(errs, errors.New("district is required"))
	}
	if p.Area <= 0 {
		errs = append(errs, fmt.Errorf("area must be positive, got %v", p.Area))
	}
	if !p.Status.Valid() {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidStatus, p.Status))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidParcel, errors.Join(errs...))
	}
	return nil
}

// LandData is the registrant-supplied part of a parcel, used both for
// local registration and for the on-chain submission
type LandData struct {
	KhasraNumber string  `json:"khasraNumber"`
	OwnerName    string  `json:"ownerName"`
	OwnerWallet  string  `json:"ownerWallet"`
	District     string  `json:"district"`
	Tehsil       string  `json:"tehsil"`
	Village      string  `json:"village"`
	Status       Status  `json:"status,omitempty"`
	DocumentCID  string  `json:"documentCID,omitempty"`
	Notes        string  `json:"notes,omitempty"`
	Area         float64 `json:"area"`
}

// NewParcel builds a pending parcel from submitted land data. New parcels
// always start out pending.
func NewParcel(id uint64, data LandData, created Date) (Parcel, error) {
	status := data.Status
	if status == "" {
		status = StatusPending
	}
	if status != StatusPending {
		return Parcel{}, fmt.Errorf(
			"%w: new parcels must be %s, got %q",
			ErrInvalidParcel,
			StatusPending,
			status,
		)
	}
	p := Parcel{
		ID:           id,
		KhasraNumber: strings.TrimSpace(data.KhasraNumber),
		OwnerName:    strings.TrimSpace(data.OwnerName),
		OwnerWallet:  strings.TrimSpace(data.OwnerWallet),
		District:     strings.TrimSpace(data.District),
		Tehsil:       strings.TrimSpace(data.Tehsil),
		Village:      strings.TrimSpace(data.Village),
		Area:         data.Area,
		Status:       status,
		CreatedDate:  created,
		DocumentCID:  strings.TrimSpace(data.DocumentCID),
		Notes:        data.Notes,
	}
	if err := p.Validate(); err != nil {
		return Parcel{}, err
	}
	return p, nil
}
