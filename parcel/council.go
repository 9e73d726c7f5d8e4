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
	"strings"
)

var ErrInvalidCouncilMember = errors.New("invalid council member")

// CouncilMember is an authority empowered to approve, reject or dispute
// parcels
type CouncilMember struct {
	Name          string `json:"name"`
	Role          string `json:"role"`
	Phone         string `json:"phone"`
	Office        string `json:"office"`
	WalletAddress string `json:"walletAddress"`
}

// Identity returns the key used to tell council members apart: the wallet
// address when known, otherwise the name
func (m CouncilMember) Identity() string {
	if w := strings.TrimSpace(m.WalletAddress); w != "" {
		return strings.ToLower(w)
	}
	return strings.ToLower(strings.TrimSpace(m.Name))
}

func (m CouncilMember) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return errors.Join(ErrInvalidCouncilMember, errors.New("name is required"))
	}
	return nil
}

// Approval is a single council member's sign-off. The member fields are a
// snapshot taken at approval time.
type Approval struct {
	CouncilMemberName   string `json:"councilMemberName"`
	CouncilMemberRole   string `json:"councilMemberRole"`
	CouncilMemberWallet string `json:"councilMemberWallet,omitempty"`
	ApprovalDate        Date   `json:"approvalDate"`
	Signature           string `json:"signature"`
}

func NewApproval(member CouncilMember, date Date, signature string) Approval {
	return Approval{
		CouncilMemberName:   member.Name,
		CouncilMemberRole:   member.Role,
		CouncilMemberWallet: member.WalletAddress,
		ApprovalDate:        date,
		Signature:           signature,
	}
}

// SameMember reports whether the approval was given by the council member.
// Wallets are compared when both sides have one. Approvals recorded without
// a wallet fall back to the member name.
func (a Approval) SameMember(m CouncilMember) bool {
	aw := strings.TrimSpace(a.CouncilMemberWallet)
	mw := strings.TrimSpace(m.WalletAddress)
	if aw != "" && mw != "" {
		return strings.EqualFold(aw, mw)
	}
	return strings.EqualFold(
		strings.TrimSpace(a.CouncilMemberName),
		strings.TrimSpace(m.Name),
	)
}
