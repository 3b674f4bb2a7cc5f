// Copyright (c) 2021 ubirch GmbH
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

package claim169

import (
	"sync"

	"github.com/fxamacker/cbor/v2" // imports as package "cbor"
)

// MaxCborNestedLevels bounds how deeply decode will descend into nested
// CBOR maps/arrays before giving up, per spec.md §4.3.
const MaxCborNestedLevels = 128

var (
	cborEncModeOnce sync.Once
	cborEncMode     cbor.EncMode
	cborEncModeErr  error

	cborDecModeOnce sync.Once
	cborDecMode     cbor.DecMode
	cborDecModeErr  error
)

// canonicalEncMode returns the shared deterministic CBOR encoder: minimal
// integer encoding, map keys sorted per the canonical (length-first, then
// bytewise) ordering rule, no indefinite-length items.
//
// https://cose-wg.github.io/cose-spec/#rfc.section.14
func canonicalEncMode() (cbor.EncMode, error) {
	cborEncModeOnce.Do(func() {
		opts := cbor.CanonicalEncOptions()
		cborEncMode, cborEncModeErr = opts.EncMode()
	})
	return cborEncMode, cborEncModeErr
}

// strictDecMode returns the shared decoder: duplicate map keys and
// indefinite-length items are hard errors, text strings must be valid
// UTF-8, and nesting past MaxCborNestedLevels is rejected.
func strictDecMode() (cbor.DecMode, error) {
	cborDecModeOnce.Do(func() {
		opts := cbor.DecOptions{
			DupMapKey:       cbor.DupMapKeyEnforcedAPF,
			IndefLength:     cbor.IndefLengthForbidden,
			UTF8:            cbor.UTF8RejectInvalid,
			MaxNestedLevels: MaxCborNestedLevels,
		}
		cborDecMode, cborDecModeErr = opts.DecMode()
	})
	return cborDecMode, cborDecModeErr
}

func marshalCanonical(v interface{}) ([]byte, error) {
	mode, err := canonicalEncMode()
	if err != nil {
		return nil, err
	}
	return mode.Marshal(v)
}

func unmarshalStrict(data []byte, v interface{}) error {
	mode, err := strictDecMode()
	if err != nil {
		return err
	}
	return mode.Unmarshal(data, v)
}
