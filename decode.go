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
	"time"
)

// Decoder parses a Base45 QR payload back into a DecodeResult. Configure it
// with the With*/VerifyWith*/DecryptWith* methods, then call Execute.
type Decoder struct {
	verifier   verifierSlot
	allowUnver bool
	decryptor  decryptorSlot

	maxDecompressedBytes int
	clockSkewTolerance   int64
	skipTimestampCheck   bool
	skipBiometrics       bool
	externalAAD          []byte

	now func() int64

	err *Error
}

// NewDecoder returns a Decoder with the default decompression cap and
// strict (non-skewed) timestamp validation.
func NewDecoder() *Decoder {
	return &Decoder{
		maxDecompressedBytes: DefaultMaxDecompressedBytes,
		now:                  func() int64 { return time.Now().Unix() },
	}
}

func (d *Decoder) fail(err *Error) *Decoder {
	if d.err == nil {
		d.err = err
	}
	return d
}

// VerifyWithEd25519PEM configures signature verification with a PEM-encoded
// SubjectPublicKeyInfo Ed25519 public key.
func (d *Decoder) VerifyWithEd25519PEM(pemBytes []byte) *Decoder {
	pub, err := parseEd25519PublicKeyPEM(pemBytes)
	if err != nil {
		return d.fail(err.(*Error))
	}
	d.verifier.set(&ed25519Verifier{pub: pub})
	return d
}

// VerifyWithEd25519Raw configures signature verification with a raw
// 32-byte Ed25519 public key.
func (d *Decoder) VerifyWithEd25519Raw(raw []byte) *Decoder {
	pub, err := parseEd25519PublicKeyRaw(raw)
	if err != nil {
		return d.fail(err.(*Error))
	}
	d.verifier.set(&ed25519Verifier{pub: pub})
	return d
}

// VerifyWithEcdsaP256PEM configures signature verification with a
// PEM-encoded SubjectPublicKeyInfo P-256 public key.
func (d *Decoder) VerifyWithEcdsaP256PEM(pemBytes []byte) *Decoder {
	pub, err := parseECDSAP256PublicKeyPEM(pemBytes)
	if err != nil {
		return d.fail(err.(*Error))
	}
	d.verifier.set(&ecdsaP256Verifier{pub: pub})
	return d
}

// VerifyWithEcdsaP256Raw configures signature verification with a raw
// SEC1-encoded P-256 public key point.
func (d *Decoder) VerifyWithEcdsaP256Raw(raw []byte) *Decoder {
	pub, err := parseECDSAP256PublicKeyRaw(raw)
	if err != nil {
		return d.fail(err.(*Error))
	}
	d.verifier.set(&ecdsaP256Verifier{pub: pub})
	return d
}

// VerifyWith installs a caller-supplied Verifier, e.g. one that resolves
// keys from a trust store keyed by kid.
func (d *Decoder) VerifyWith(verifier Verifier) *Decoder {
	if verifier == nil {
		return d.fail(errDecodingConfig("VerifyWith called with a nil Verifier"))
	}
	d.verifier.set(verifier)
	return d
}

// AllowUnverified permits Execute to return an unverified or unsigned
// credential with VerificationStatus set to VerificationSkipped instead of
// failing closed when no verifier is configured.
func (d *Decoder) AllowUnverified() *Decoder {
	d.allowUnver = true
	return d
}

// DecryptWithAes128Gcm configures decryption with a 16-byte AES-128 key.
func (d *Decoder) DecryptWithAes128Gcm(key []byte) *Decoder {
	if len(key) != 16 {
		return d.fail(errDecodingConfig("AES-128-GCM key must be 16 bytes"))
	}
	d.decryptor.set(&aesGCMDecryptor{key: key, alg: AlgA128GCM})
	return d
}

// DecryptWithAes256Gcm configures decryption with a 32-byte AES-256 key.
func (d *Decoder) DecryptWithAes256Gcm(key []byte) *Decoder {
	if len(key) != 32 {
		return d.fail(errDecodingConfig("AES-256-GCM key must be 32 bytes"))
	}
	d.decryptor.set(&aesGCMDecryptor{key: key, alg: AlgA256GCM})
	return d
}

// DecryptWith installs a caller-supplied Decryptor.
func (d *Decoder) DecryptWith(dec Decryptor) *Decoder {
	if dec == nil {
		return d.fail(errDecodingConfig("DecryptWith called with a nil Decryptor"))
	}
	d.decryptor.set(dec)
	return d
}

// WithMaxDecompressedBytes overrides DefaultMaxDecompressedBytes.
func (d *Decoder) WithMaxDecompressedBytes(n int) *Decoder {
	if n <= 0 {
		return d.fail(errDecodingConfig("max decompressed bytes must be positive"))
	}
	d.maxDecompressedBytes = n
	return d
}

// WithClockSkewTolerance allows exp/nbf checks to tolerate up to seconds
// of clock drift between issuer and verifier.
func (d *Decoder) WithClockSkewTolerance(seconds int64) *Decoder {
	if seconds < 0 {
		return d.fail(errDecodingConfig("clock skew tolerance must not be negative"))
	}
	d.clockSkewTolerance = seconds
	return d
}

// WithoutTimestampValidation disables exp/nbf enforcement. A warning is
// still attached to the result so callers can tell validation was skipped.
func (d *Decoder) WithoutTimestampValidation() *Decoder {
	d.skipTimestampCheck = true
	return d
}

// SkipBiometrics drops the biometric samples from the returned result, used
// when a caller only needs the demographic fields. The samples are still
// parsed during decode; they are cleared from the result before it is
// returned.
func (d *Decoder) SkipBiometrics() *Decoder {
	d.skipBiometrics = true
	return d
}

// WithExternalAAD sets additional authenticated data expected in both the
// Sig_structure and the Enc_structure.
func (d *Decoder) WithExternalAAD(aad []byte) *Decoder {
	d.externalAAD = aad
	return d
}

// withClock overrides the clock used for timestamp validation. Exposed for
// tests; not part of the public surface.
func (d *Decoder) withClock(now func() int64) *Decoder {
	d.now = now
	return d
}

func (d *Decoder) validate() error {
	if d.err != nil {
		return d.err
	}
	if d.verifier.v == nil && !d.allowUnver {
		return errDecodingConfig("no verifier configured; call a VerifyWith* method or AllowUnverified")
	}
	return nil
}

// Execute runs the decode pipeline: Base45 decode, decompress, parse the
// outer COSE envelope(s), verify, decode the CWT payload, and validate
// timestamps.
func (d *Decoder) Execute(text string) (DecodeResult, error) {
	var result DecodeResult

	if err := d.validate(); err != nil {
		return result, err
	}

	raw, err := base45Decode(text)
	if err != nil {
		return result, err
	}

	decompressed, usedCompression, err := decompress(raw, d.maxDecompressedBytes)
	if err != nil {
		return result, err
	}
	result.DetectedCompression = usedCompression
	if usedCompression != CompressionZlib && usedCompression != CompressionNone {
		result.Warnings = append(result.Warnings, Warning{
			Code:    WarningNonStandardCompression,
			Message: "payload used a non-default compression container: " + usedCompression.String(),
		})
	}

	body := decompressed
	result.VerificationStatus = VerificationSkipped

	content, kind, isRaw, err := classifyCoseEnvelope(body)
	if err != nil {
		return result, err
	}

	if !isRaw && kind == tagCoseEncrypt0 {
		encBody, encProtected, err := decodeEncrypt0(content)
		if err != nil {
			return result, err
		}
		if d.decryptor.v == nil {
			return result, errKeyNotFound("decrypt", "credential is encrypted but no decryptor is configured")
		}
		if alg, ok, err := headerInt(encProtected, headerAlg); err == nil && ok && alg != d.decryptor.v.Algorithm() {
			return result, errUnsupportedAlgorithm("decrypt", "encryption algorithm does not match configured decryptor", alg, d.decryptor.v.Algorithm())
		}
		plaintext, err := decryptEncrypt0(encBody, d.decryptor.v, d.externalAAD)
		if err != nil {
			return result, err
		}
		body = plaintext
		if kid, ok, _ := headerBytes(encBody.Unprotected, headerKid); ok {
			result.KeyID = kid
		}
		if alg, ok, _ := headerInt(encProtected, headerAlg); ok {
			result.Algorithm = alg
		}

		content, kind, isRaw, err = classifyCoseEnvelope(body)
		if err != nil {
			return result, err
		}
	}

	var payloadBytes []byte

	switch {
	case !isRaw && kind == tagCoseSign1:
		signBody, signProtected, err := decodeSign1(content)
		if err != nil {
			return result, err
		}
		result.ProtectedHeaders = signProtected
		result.UnprotectedHeaders = signBody.Unprotected
		result.X509Headers = extractX509Headers(signProtected, signBody.Unprotected)
		if kid, ok, _ := headerBytes(signBody.Unprotected, headerKid); ok {
			result.KeyID = kid
		}
		if alg, ok, _ := headerInt(signProtected, headerAlg); ok {
			result.Algorithm = alg
		}

		if d.verifier.v != nil {
			if alg, ok, err := headerInt(signProtected, headerAlg); err == nil && ok && alg != d.verifier.v.Algorithm() {
				return result, errUnsupportedAlgorithm("verify", "signing algorithm does not match configured verifier", alg, d.verifier.v.Algorithm())
			}
			if err := verifySign1(signBody, d.verifier.v, d.externalAAD); err != nil {
				result.VerificationStatus = VerificationFailed
				return result, err
			}
			result.VerificationStatus = VerificationVerified
		} else if !d.allowUnver {
			return result, errDecodingConfig("no verifier configured; call a VerifyWith* method or AllowUnverified")
		} else {
			result.VerificationStatus = VerificationSkipped
		}

		payloadBytes = signBody.Payload

	case !isRaw:
		// classifyCoseEnvelope only ever hands back tagCoseSign1 or
		// tagCoseEncrypt0 here; reaching Encrypt0 again means the
		// decrypted plaintext wasn't itself a COSE_Sign1.
		return result, errUnsupportedCoseType("cose", "decrypted content must be a COSE_Sign1")

	default:
		// Unsigned, unwrapped credential: the decompressed body is the CWT
		// payload directly. This package's own encoder never emits this
		// shape (it always wraps even unsigned credentials in a COSE_Sign1,
		// spec.md §4.6); kept for interop with other implementations.
		if !d.allowUnver {
			return result, errDecodingConfig("credential is unsigned but AllowUnverified was not set")
		}
		result.VerificationStatus = VerificationSkipped
		payloadBytes = body
	}

	var payload cwtPayload
	if err := unmarshalStrict(payloadBytes, &payload); err != nil {
		return result, errCwtParse("cwt", "failed to parse CWT claim set", err)
	}
	if payload.Claim169 == nil {
		return result, errClaim169NotFound("cwt")
	}

	result.Claim169 = *payload.Claim169
	result.CwtMeta = CwtMeta{
		Issuer:    payload.Issuer,
		Subject:   payload.Subject,
		ExpiresAt: payload.ExpiresAt,
		NotBefore: payload.NotBefore,
		IssuedAt:  payload.IssuedAt,
	}

	if d.skipBiometrics {
		clearBiometrics(&result.Claim169)
		result.Warnings = append(result.Warnings, Warning{
			Code:    WarningBiometricsSkipped,
			Message: "biometric fields were omitted from the result (SkipBiometrics)",
		})
	}

	if len(result.Claim169.UnknownFields) > 0 {
		result.Warnings = append(result.Warnings, Warning{
			Code:    WarningUnknownFields,
			Message: "claim 169 contained unrecognized fields preserved for forward compatibility",
		})
	}

	if result.Claim169.Gender != nil {
		g := *result.Claim169.Gender
		if g != GenderMale && g != GenderFemale && g != GenderOther {
			result.Warnings = append(result.Warnings, Warning{
				Code:    WarningUnknownGenderValue,
				Message: "gender field used a non-standard value",
			})
		}
	}

	if d.skipTimestampCheck {
		result.Warnings = append(result.Warnings, Warning{
			Code:    WarningTimestampValidationSkipped,
			Message: "exp/nbf validation was disabled (WithoutTimestampValidation)",
		})
	} else {
		now := d.now()
		if payload.ExpiresAt != nil && now > *payload.ExpiresAt+d.clockSkewTolerance {
			return result, errExpired("timestamp", *payload.ExpiresAt, now)
		}
		if payload.NotBefore != nil && now < *payload.NotBefore-d.clockSkewTolerance {
			return result, errNotYetValid("timestamp", *payload.NotBefore, now)
		}
		if payload.ExpiresAt != nil && *payload.ExpiresAt-now <= expiringSoonWindow {
			result.Warnings = append(result.Warnings, Warning{
				Code:    WarningExpiringSoon,
				Message: "credential expires within 30 days",
			})
		}
	}

	return result, nil
}

// expiringSoonWindow is how close to exp (in seconds) a credential must be
// for Execute to attach WarningExpiringSoon.
const expiringSoonWindow = 30 * 24 * 60 * 60

func clearBiometrics(c *Claim169) {
	for _, f := range biometricFieldLabels {
		f.set(c, nil)
	}
}
