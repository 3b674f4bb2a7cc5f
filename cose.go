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
	"fmt"

	"github.com/fxamacker/cbor/v2" // imports as package "cbor"
)

// COSE header labels, RFC 8152 §3.1 plus the X.509 header extensions used
// by spec.md §3's X509Headers.
const (
	headerAlg     = 1
	headerKid     = 4
	headerIV      = 5
	headerX5Bag   = 32
	headerX5Chain = 33
	headerX5T     = 34
	headerX5U     = 35
)

// CBOR tag numbers this package understands (RFC 8152 §2, RFC 8392 §6).
const (
	tagCoseEncrypt0 = 16
	tagCoseSign1    = 18
	tagCwt          = 61
)

const stageCose = "cose"

// sign1Body is the four-element COSE_Sign1 array, RFC 8152 §4.2.
type sign1Body struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[int]cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

// encrypt0Body is the three-element COSE_Encrypt0 array, RFC 8152 §5.2.
type encrypt0Body struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[int]cbor.RawMessage
	Ciphertext  []byte
}

func rawInt(v int) cbor.RawMessage {
	b, err := marshalCanonical(v)
	if err != nil {
		panic(err) // marshaling a plain int cannot fail under the canonical mode
	}
	return b
}

func rawBytes(v []byte) cbor.RawMessage {
	b, err := marshalCanonical(v)
	if err != nil {
		panic(err)
	}
	return b
}

// buildProtectedHeader produces the canonical CBOR-encoded protected header
// map, bstr-wrapped per RFC 8152 §3. kid and iv live in the unprotected
// header (spec.md §4.4); the protected header carries only alg.
func buildProtectedHeader(alg int) ([]byte, error) {
	return marshalCanonical(map[int]interface{}{headerAlg: alg})
}

// buildEmptyProtectedHeader produces an alg-absent protected header, used
// for unsigned COSE_Sign1 envelopes (spec.md §4.6).
func buildEmptyProtectedHeader() ([]byte, error) {
	return marshalCanonical(map[int]interface{}{})
}

func parseProtectedHeader(raw []byte) (map[int]cbor.RawMessage, error) {
	var m map[int]cbor.RawMessage
	if len(raw) == 0 {
		return map[int]cbor.RawMessage{}, nil
	}
	if err := unmarshalStrict(raw, &m); err != nil {
		return nil, errCoseParse(stageCose, "malformed protected header", err)
	}
	return m, nil
}

// headerInt extracts an integer-valued header, if present.
func headerInt(m map[int]cbor.RawMessage, label int) (int, bool, error) {
	raw, ok := m[label]
	if !ok {
		return 0, false, nil
	}
	var v int
	if err := unmarshalStrict(raw, &v); err != nil {
		return 0, false, errCoseParse(stageCose, "header value must be an integer", err)
	}
	return v, true, nil
}

func headerBytes(m map[int]cbor.RawMessage, label int) ([]byte, bool, error) {
	raw, ok := m[label]
	if !ok {
		return nil, false, nil
	}
	var v []byte
	if err := unmarshalStrict(raw, &v); err != nil {
		return nil, false, errCoseParse(stageCose, "header value must be a byte string", err)
	}
	return v, true, nil
}

func headerBytesSlice(m map[int]cbor.RawMessage, label int) ([][]byte, bool, error) {
	raw, ok := m[label]
	if !ok {
		return nil, false, nil
	}
	var v [][]byte
	if err := unmarshalStrict(raw, &v); err != nil {
		return nil, false, errCoseParse(stageCose, "header value must be an array of byte strings", err)
	}
	return v, true, nil
}

func headerString(m map[int]cbor.RawMessage, label int) (string, bool, error) {
	raw, ok := m[label]
	if !ok {
		return "", false, nil
	}
	var v string
	if err := unmarshalStrict(raw, &v); err != nil {
		return "", false, errCoseParse(stageCose, "header value must be a text string", err)
	}
	return v, true, nil
}

// extractX509Headers reads the X.509 header extensions from a COSE header
// map. Per spec.md §7 a malformed individual X.509 header never fails
// decode; it is simply left unset.
func extractX509Headers(protected, unprotected map[int]cbor.RawMessage) X509Headers {
	var out X509Headers

	merged := func(label int) (cbor.RawMessage, bool) {
		if v, ok := protected[label]; ok {
			return v, true
		}
		v, ok := unprotected[label]
		return v, ok
	}

	if _, ok := merged(headerX5Bag); ok {
		if v, _, err := headerBytesSlice(unionMap(protected, unprotected), headerX5Bag); err == nil {
			out.X5Bag = v
		}
	}
	if _, ok := merged(headerX5Chain); ok {
		if v, _, err := headerBytesSlice(unionMap(protected, unprotected), headerX5Chain); err == nil {
			out.X5Chain = v
		}
	}
	if _, ok := merged(headerX5T); ok {
		// x5t is encoded as [alg, hash-bytes].
		var pair []cbor.RawMessage
		raw, _ := merged(headerX5T)
		if err := unmarshalStrict(raw, &pair); err == nil && len(pair) == 2 {
			var alg int
			var hash []byte
			if err := unmarshalStrict(pair[0], &alg); err == nil {
				if err := unmarshalStrict(pair[1], &hash); err == nil {
					out.X5TAlg = &alg
					out.X5THash = hash
				}
			}
		}
	}
	if _, ok := merged(headerX5U); ok {
		if v, _, err := headerString(unionMap(protected, unprotected), headerX5U); err == nil {
			out.X5U = &v
		}
	}

	return out
}

// unionMap merges protected and unprotected header maps, with protected
// values taking precedence on key collision: a value an attacker could add
// to the unprotected header must never shadow one covered by the signature.
func unionMap(protected, unprotected map[int]cbor.RawMessage) map[int]cbor.RawMessage {
	m := make(map[int]cbor.RawMessage, len(protected)+len(unprotected))
	for k, v := range unprotected {
		m[k] = v
	}
	for k, v := range protected {
		m[k] = v
	}
	return m
}

// buildSigStructure assembles the Sig_structure byte sequence that is
// actually signed/verified, RFC 8152 §4.4.
func buildSigStructure(protected, externalAAD, payload []byte) ([]byte, error) {
	if externalAAD == nil {
		externalAAD = []byte{}
	}
	arr := []interface{}{"Signature1", protected, externalAAD, payload}
	return marshalCanonical(arr)
}

// buildEncStructure assembles the Enc_structure byte sequence used as AEAD
// additional data, RFC 8152 §5.3.
func buildEncStructure(protected, externalAAD []byte) ([]byte, error) {
	if externalAAD == nil {
		externalAAD = []byte{}
	}
	arr := []interface{}{"Encrypt0", protected, externalAAD}
	return marshalCanonical(arr)
}

// encodeSign1 assembles and CBOR-encodes a complete, tagged COSE_Sign1
// object over payload. kid, if present, is carried in the unprotected
// header (spec.md §4.4).
func encodeSign1(signer Signer, kid []byte, payload, externalAAD []byte) ([]byte, error) {
	protected, err := buildProtectedHeader(signer.Algorithm())
	if err != nil {
		return nil, errCborEncode(stageCose, err)
	}
	sigStruct, err := buildSigStructure(protected, externalAAD, payload)
	if err != nil {
		return nil, errCborEncode(stageCose, err)
	}
	sig, err := signer.Sign(sigStruct)
	if err != nil {
		return nil, errSignatureFailed(stageCose, err)
	}
	body := sign1Body{
		Protected:   protected,
		Unprotected: sign1Unprotected(kid),
		Payload:     payload,
		Signature:   sig,
	}
	out, err := marshalCanonical(cbor.Tag{Number: tagCoseSign1, Content: body})
	if err != nil {
		return nil, errCborEncode(stageCose, err)
	}
	return out, nil
}

// encodeUnsignedSign1 assembles a COSE_Sign1 with an alg-absent protected
// header and an empty signature element, used when the Encoder is
// configured with AllowUnsigned instead of a real signer (spec.md §4.6).
func encodeUnsignedSign1(kid, payload []byte) ([]byte, error) {
	protected, err := buildEmptyProtectedHeader()
	if err != nil {
		return nil, errCborEncode(stageCose, err)
	}
	body := sign1Body{
		Protected:   protected,
		Unprotected: sign1Unprotected(kid),
		Payload:     payload,
		Signature:   []byte{},
	}
	out, err := marshalCanonical(cbor.Tag{Number: tagCoseSign1, Content: body})
	if err != nil {
		return nil, errCborEncode(stageCose, err)
	}
	return out, nil
}

func sign1Unprotected(kid []byte) map[int]cbor.RawMessage {
	m := map[int]cbor.RawMessage{}
	if len(kid) > 0 {
		m[headerKid] = rawBytes(kid)
	}
	return m
}

// stripOptionalTag returns data's tag content when data is tagged with
// want, data itself unchanged when data carries no CBOR tag at all (a bare
// COSE array, spec.md §4.7 step 3), or an error when data is tagged with
// something other than want.
func stripOptionalTag(data []byte, want uint64) ([]byte, error) {
	var tag cbor.RawTag
	if err := unmarshalStrict(data, &tag); err != nil {
		return data, nil
	}
	if tag.Number != want {
		return nil, errUnsupportedCoseType(stageCose, fmt.Sprintf("expected tag %d, got tag %d", want, tag.Number))
	}
	return []byte(tag.Content), nil
}

// decodeSign1 parses a COSE_Sign1 object (tagged or bare) without verifying
// it.
func decodeSign1(data []byte) (body sign1Body, protectedHeaders map[int]cbor.RawMessage, err error) {
	content, err := stripOptionalTag(data, tagCoseSign1)
	if err != nil {
		return sign1Body{}, nil, err
	}
	if err := unmarshalStrict(content, &body); err != nil {
		return sign1Body{}, nil, errCoseParse(stageCose, "malformed COSE_Sign1 array", err)
	}
	protectedHeaders, err = parseProtectedHeader(body.Protected)
	if err != nil {
		return sign1Body{}, nil, err
	}
	return body, protectedHeaders, nil
}

// verifySign1 checks body's signature with verifier, returning nil when the
// signature is valid.
func verifySign1(body sign1Body, verifier Verifier, externalAAD []byte) error {
	sigStruct, err := buildSigStructure(body.Protected, externalAAD, body.Payload)
	if err != nil {
		return errCborEncode(stageCose, err)
	}
	return verifier.Verify(sigStruct, body.Signature)
}

// encodeEncrypt0 assembles and CBOR-encodes a complete, tagged
// COSE_Encrypt0 object over plaintext. The AEAD nonce is generated here and
// carried in the unprotected header's 5=iv label, never prepended to the
// ciphertext (spec.md §4.4); Ciphertext holds AEAD output only (the 16-byte
// GCM tag is appended by the cipher itself).
func encodeEncrypt0(enc Encryptor, kid []byte, plaintext, externalAAD []byte) ([]byte, error) {
	protected, err := buildProtectedHeader(enc.Algorithm())
	if err != nil {
		return nil, errCborEncode(stageCose, err)
	}
	encStruct, err := buildEncStructure(protected, externalAAD)
	if err != nil {
		return nil, errCborEncode(stageCose, err)
	}
	nonce, err := generateAESGCMNonce()
	if err != nil {
		return nil, err
	}
	ciphertext, err := enc.Encrypt(nonce, plaintext, encStruct)
	if err != nil {
		return nil, errEncryptionFailed(stageCose, err)
	}
	unprotected := map[int]cbor.RawMessage{headerIV: rawBytes(nonce)}
	if len(kid) > 0 {
		unprotected[headerKid] = rawBytes(kid)
	}
	body := encrypt0Body{
		Protected:   protected,
		Unprotected: unprotected,
		Ciphertext:  ciphertext,
	}
	out, err := marshalCanonical(cbor.Tag{Number: tagCoseEncrypt0, Content: body})
	if err != nil {
		return nil, errCborEncode(stageCose, err)
	}
	return out, nil
}

// decodeEncrypt0 parses a COSE_Encrypt0 object (tagged or bare) without
// decrypting it.
func decodeEncrypt0(data []byte) (body encrypt0Body, protectedHeaders map[int]cbor.RawMessage, err error) {
	content, err := stripOptionalTag(data, tagCoseEncrypt0)
	if err != nil {
		return encrypt0Body{}, nil, err
	}
	if err := unmarshalStrict(content, &body); err != nil {
		return encrypt0Body{}, nil, errCoseParse(stageCose, "malformed COSE_Encrypt0 array", err)
	}
	protectedHeaders, err = parseProtectedHeader(body.Protected)
	if err != nil {
		return encrypt0Body{}, nil, err
	}
	return body, protectedHeaders, nil
}

// decryptEncrypt0 opens body's ciphertext with dec and returns the
// plaintext, reading the AEAD nonce back out of the unprotected header.
func decryptEncrypt0(body encrypt0Body, dec Decryptor, externalAAD []byte) ([]byte, error) {
	nonce, ok, err := headerBytes(body.Unprotected, headerIV)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errCoseParse(stageCose, "COSE_Encrypt0 missing 5=iv in unprotected header", nil)
	}
	encStruct, err := buildEncStructure(body.Protected, externalAAD)
	if err != nil {
		return nil, errCborEncode(stageCose, err)
	}
	return dec.Decrypt(nonce, body.Ciphertext, encStruct)
}

// detectOuterCoseType peeks at the outer CBOR tag number without fully
// decoding the body, used by Inspect to report IsEncrypted.
func detectOuterCoseType(data []byte) (tagNumber uint64, err error) {
	var tag cbor.RawTag
	if err := unmarshalStrict(data, &tag); err != nil {
		return 0, errCoseParse(stageCose, "not a valid CBOR tag", err)
	}
	return tag.Number, nil
}

// tryDetectOuterCoseType is detectOuterCoseType without the error return:
// an unsigned, untagged CWT payload is not malformed, just not COSE-wrapped.
func tryDetectOuterCoseType(data []byte) (tagNumber uint64, tagged bool) {
	n, err := detectOuterCoseType(data)
	if err != nil {
		return 0, false
	}
	return n, true
}

// wrapCWT wraps data (an already CBOR-encoded COSE_Sign1 or COSE_Encrypt0
// item) in the CWT tag (61), emitted on every encode per spec.md §4.4.
func wrapCWT(data []byte) ([]byte, error) {
	out, err := marshalCanonical(cbor.Tag{Number: tagCwt, Content: cbor.RawMessage(data)})
	if err != nil {
		return nil, errCborEncode(stageCose, err)
	}
	return out, nil
}

// unwrapCWT peeks at data's outer CBOR tag; when it is the CWT tag (61) its
// content is returned together with true. Any other tag, or no tag at all,
// returns data unchanged and false - the CWT tag is optional on input
// (spec.md §4.4, §4.7 step 3).
func unwrapCWT(data []byte) ([]byte, bool) {
	var tag cbor.RawTag
	if err := unmarshalStrict(data, &tag); err != nil {
		return data, false
	}
	if tag.Number != tagCwt {
		return data, false
	}
	return []byte(tag.Content), true
}

// detectCoseArrayArity reports the element count of data's top-level CBOR
// array, used to distinguish a bare (untagged) COSE_Sign1 (4 elements) from
// a bare COSE_Encrypt0 (3 elements) per spec.md §4.7 step 3.
func detectCoseArrayArity(data []byte) (arity int, ok bool) {
	var arr []cbor.RawMessage
	if err := unmarshalStrict(data, &arr); err != nil {
		return 0, false
	}
	return len(arr), true
}

// classifyCoseEnvelope unwraps an optional outer CWT tag and determines
// whether the remaining item is a COSE_Sign1 or COSE_Encrypt0, by CBOR tag
// when one is present, or by array arity when it is not (spec.md §4.7 step
// 3). raw is true when data is neither tagged nor array-shaped like a COSE
// envelope at all - an unsigned, unwrapped CWT payload. err is non-nil only
// for a structurally COSE-like item (a recognized outer tag, or an array)
// whose shape doesn't match either known type.
func classifyCoseEnvelope(data []byte) (content []byte, kind uint64, raw bool, err error) {
	if unwrapped, ok := unwrapCWT(data); ok {
		data = unwrapped
	}

	if tagNumber, tagged := tryDetectOuterCoseType(data); tagged {
		switch tagNumber {
		case tagCoseSign1, tagCoseEncrypt0:
			return data, tagNumber, false, nil
		default:
			return nil, 0, false, errUnsupportedCoseType(stageCose, fmt.Sprintf("unrecognized outer COSE tag %d", tagNumber))
		}
	}

	if arity, ok := detectCoseArrayArity(data); ok {
		switch arity {
		case 4:
			return data, tagCoseSign1, false, nil
		case 3:
			return data, tagCoseEncrypt0, false, nil
		default:
			return nil, 0, false, errUnsupportedCoseType(stageCose, fmt.Sprintf("COSE array has %d elements, want 3 or 4", arity))
		}
	}

	return data, 0, true, nil
}
