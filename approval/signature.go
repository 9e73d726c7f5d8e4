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

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// SignatureSource produces the opaque token recorded with each approval
type SignatureSource interface {
	NewSignature() string
}

// RandomSignatures returns unique random tokens
type RandomSignatures struct{}

func (RandomSignatures) NewSignature() string {
	return "0x" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SequentialSignatures returns predictable tokens, for tests
type SequentialSignatures struct {
	next atomic.Uint64
}

func (s *SequentialSignatures) NewSignature() string {
	return fmt.Sprintf("0x%08x", s.next.Add(1))
}
