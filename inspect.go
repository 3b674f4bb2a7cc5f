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
	"github.com/fxamacker/cbor/v2" // imports as package "cbor"
)

// Inspect extracts issuer, subject, expiry, key ID, algorithm, and X.509
// headers from a credential without verifying its signature or decrypting
// it. A relying party with multiple trusted issuer keys uses this to pick
// the right key before calling Decoder.Execute (spec.md §4.8).
//
// maxDecompressedBytes <= 0 uses DefaultMaxDecompressedBytes.
func Inspect(text string, maxDecompressedBytes int) (InspectResult, error) {
	var result InspectResult

	if maxDecompressedBytes <= 0 {
		maxDecompressedBytes = DefaultMaxDecompressedBytes
	}

	raw, err := base45Decode(text)
	if err != nil {
		return result, err
	}

	body, _, err := decompress(raw, maxDecompressedBytes)
	if err != nil {
		return result, err
	}

	content, kind, isRaw, err := classifyCoseEnvelope(body)
	if err != nil {
		return result, err
	}
	if isRaw {
		return result, errCoseParse("inspect", "credential is not COSE-wrapped; nothing to inspect", nil)
	}

	var protected map[int]cbor.RawMessage
	var unprotected map[int]cbor.RawMessage
	var innerPayload []byte

	switch kind {
	case tagCoseEncrypt0:
		encBody, encProtected, err := decodeEncrypt0(content)
		if err != nil {
			return result, err
		}
		result.IsEncrypted = true
		protected = encProtected
		unprotected = encBody.Unprotected
		// The plaintext is unavailable without a decryptor; metadata comes
		// solely from the outer envelope's headers.
	case tagCoseSign1:
		signBody, signProtected, err := decodeSign1(content)
		if err != nil {
			return result, err
		}
		protected = signProtected
		unprotected = signBody.Unprotected
		innerPayload = signBody.Payload
	}

	if kid, ok, _ := headerBytes(protected, headerKid); ok {
		result.KeyID = kid
	} else if kid, ok, _ := headerBytes(unprotected, headerKid); ok {
		result.KeyID = kid
	}
	if alg, ok, _ := headerInt(protected, headerAlg); ok {
		result.Algorithm = alg
	}
	result.X509Headers = extractX509Headers(protected, unprotected)

	if innerPayload != nil {
		var payload cwtPayload
		if err := unmarshalStrict(innerPayload, &payload); err == nil {
			result.Issuer = payload.Issuer
			result.Subject = payload.Subject
			result.ExpiresAt = payload.ExpiresAt
		}
	}

	return result, nil
}
