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

import "fmt"

// Kind tags the class of failure a pipeline stage reported.
type Kind int

const (
	KindUnspecified Kind = iota
	KindBase45Decode
	KindDecompress
	KindDecompressLimitExceeded
	KindCoseParse
	KindUnsupportedCoseType
	KindSignatureInvalid
	KindDecryptionFailed
	KindCborParse
	KindCwtParse
	KindClaim169NotFound
	KindClaim169Invalid
	KindUnsupportedAlgorithm
	KindKeyNotFound
	KindExpired
	KindNotYetValid
	KindCrypto
	KindIo
	KindCborEncode
	KindSignatureFailed
	KindEncryptionFailed
	KindEncodingConfig
	KindDecodingConfig
)

func (k Kind) String() string {
	switch k {
	case KindBase45Decode:
		return "Base45Decode"
	case KindDecompress:
		return "Decompress"
	case KindDecompressLimitExceeded:
		return "DecompressLimitExceeded"
	case KindCoseParse:
		return "CoseParse"
	case KindUnsupportedCoseType:
		return "UnsupportedCoseType"
	case KindSignatureInvalid:
		return "SignatureInvalid"
	case KindDecryptionFailed:
		return "DecryptionFailed"
	case KindCborParse:
		return "CborParse"
	case KindCwtParse:
		return "CwtParse"
	case KindClaim169NotFound:
		return "Claim169NotFound"
	case KindClaim169Invalid:
		return "Claim169Invalid"
	case KindUnsupportedAlgorithm:
		return "UnsupportedAlgorithm"
	case KindKeyNotFound:
		return "KeyNotFound"
	case KindExpired:
		return "Expired"
	case KindNotYetValid:
		return "NotYetValid"
	case KindCrypto:
		return "Crypto"
	case KindIo:
		return "Io"
	case KindCborEncode:
		return "CborEncode"
	case KindSignatureFailed:
		return "SignatureFailed"
	case KindEncryptionFailed:
		return "EncryptionFailed"
	case KindEncodingConfig:
		return "EncodingConfig"
	case KindDecodingConfig:
		return "DecodingConfig"
	default:
		return "Unspecified"
	}
}

// Error is the single error type returned by every fallible operation in
// this package. Stage names the pipeline step that detected the fault
// (see spec.md §7); it is empty when the error has no single stage, e.g.
// configuration errors raised before the pipeline runs.
type Error struct {
	Kind    Kind
	Stage   string
	Message string
	Cause   error

	// ByteIndex carries the offending character index for Base45Decode,
	// when known; -1 otherwise.
	ByteIndex int

	// MessageAlg/ConfiguredAlg carry both algorithms for UnsupportedAlgorithm.
	MessageAlg, ConfiguredAlg int

	// Exp/Nbf/Now carry the relevant Unix-second timestamps for Expired and
	// NotYetValid.
	Exp, Nbf, Now int64
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Stage, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, stage, msg string, cause error) *Error {
	return &Error{Kind: kind, Stage: stage, Message: msg, Cause: cause, ByteIndex: -1}
}

func errBase45(stage, msg string, index int) *Error {
	e := newErr(KindBase45Decode, stage, msg, nil)
	e.ByteIndex = index
	return e
}

func errDecompress(stage string, cause error) *Error {
	return newErr(KindDecompress, stage, "failed to decompress payload", cause)
}

func errDecompressLimit(stage string, limit int) *Error {
	return newErr(KindDecompressLimitExceeded, stage,
		fmt.Sprintf("decompressed payload exceeds configured limit of %d bytes", limit), nil)
}

func errCoseParse(stage, msg string, cause error) *Error {
	return newErr(KindCoseParse, stage, msg, cause)
}

func errUnsupportedCoseType(stage, msg string) *Error {
	return newErr(KindUnsupportedCoseType, stage, msg, nil)
}

func errSignatureInvalid(stage, msg string) *Error {
	return newErr(KindSignatureInvalid, stage, msg, nil)
}

func errDecryptionFailed(stage string, cause error) *Error {
	return newErr(KindDecryptionFailed, stage, "decryption failed", cause)
}

func errCborParse(stage, msg string, cause error) *Error {
	return newErr(KindCborParse, stage, msg, cause)
}

func errCwtParse(stage, msg string, cause error) *Error {
	return newErr(KindCwtParse, stage, msg, cause)
}

func errClaim169NotFound(stage string) *Error {
	return newErr(KindClaim169NotFound, stage, "CWT payload does not contain a claim 169 entry", nil)
}

func errClaim169Invalid(stage, msg string, cause error) *Error {
	return newErr(KindClaim169Invalid, stage, msg, cause)
}

func errUnsupportedAlgorithm(stage, msg string, messageAlg, configuredAlg int) *Error {
	e := newErr(KindUnsupportedAlgorithm, stage, msg, nil)
	e.MessageAlg = messageAlg
	e.ConfiguredAlg = configuredAlg
	return e
}

func errKeyNotFound(stage, msg string) *Error {
	return newErr(KindKeyNotFound, stage, msg, nil)
}

func errExpired(stage string, exp, now int64) *Error {
	e := newErr(KindExpired, stage, fmt.Sprintf("credential expired at %d (now %d)", exp, now), nil)
	e.Exp, e.Now = exp, now
	return e
}

func errNotYetValid(stage string, nbf, now int64) *Error {
	e := newErr(KindNotYetValid, stage, fmt.Sprintf("credential not valid before %d (now %d)", nbf, now), nil)
	e.Nbf, e.Now = nbf, now
	return e
}

func errCrypto(stage, msg string, cause error) *Error {
	return newErr(KindCrypto, stage, msg, cause)
}

func errIo(stage, msg string, cause error) *Error {
	return newErr(KindIo, stage, msg, cause)
}

func errCborEncode(stage string, cause error) *Error {
	return newErr(KindCborEncode, stage, "unexpected CBOR encoding failure", cause)
}

func errSignatureFailed(stage string, cause error) *Error {
	return newErr(KindSignatureFailed, stage, "signing operation failed", cause)
}

func errEncryptionFailed(stage string, cause error) *Error {
	return newErr(KindEncryptionFailed, stage, "encryption operation failed", cause)
}

func errEncodingConfig(msg string) *Error {
	return newErr(KindEncodingConfig, "", msg, nil)
}

func errDecodingConfig(msg string) *Error {
	return newErr(KindDecodingConfig, "", msg, nil)
}
