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

package event

import (
	"github.com/blinklabs-io/landregistry/parcel"
)

const (
	ParcelSubmittedEventType   EventType = "parcel.submitted"
	ParcelApprovedEventType    EventType = "parcel.approved"
	ParcelRejectedEventType    EventType = "parcel.rejected"
	ParcelDisputedEventType    EventType = "parcel.disputed"
	ParcelTransferredEventType EventType = "parcel.transferred"
	ParcelDeletedEventType     EventType = "parcel.deleted"
)

// ParcelEventTypes lists every parcel lifecycle event
var ParcelEventTypes = []EventType{
	ParcelSubmittedEventType,
	ParcelApprovedEventType,
	ParcelRejectedEventType,
	ParcelDisputedEventType,
	ParcelTransferredEventType,
	ParcelDeletedEventType,
}

// ParcelEvent is the payload of every parcel lifecycle event. TxHash is empty
// for changes that never reached the ledger, such as admin deletes.
type ParcelEvent struct {
	Caller   string
	TxHash   string
	Status   parcel.Status
	ParcelID uint64
	// Approvals is the number of council approvals after the change
	Approvals int
}
