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
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"math/big"
)

// Algorithm identifiers, COSE registry values used throughout the package
// (RFC 8152 / RFC 9053), spec.md §5.
const (
	AlgEdDSA   = -8
	AlgES256   = -7
	AlgA128GCM = 1
	AlgA256GCM = 3
)

const stageCrypto = "crypto"

// zeroize overwrites b with zero bytes in place. Used to scrub key material
// and, via Scoped.Release, decoded biometric samples once a caller is done
// with them.
func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// signEd25519 produces a raw 64-byte Ed25519 signature over msg.
func signEd25519(priv ed25519.PrivateKey, msg []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errCrypto(stageCrypto, "ed25519 private key has wrong length", nil)
	}
	return ed25519.Sign(priv, msg), nil
}

// verifyEd25519 checks a raw 64-byte Ed25519 signature, rejecting known
// small-order / identity public keys before delegating to the stdlib
// verifier (spec.md §5, weak-key rejection).
func verifyEd25519(pub ed25519.PublicKey, msg, sig []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return errCrypto(stageCrypto, "ed25519 public key has wrong length", nil)
	}
	if isWeakEd25519Key(pub) {
		return errSignatureInvalid(stageCrypto, "ed25519 public key is a known low-order point")
	}
	if len(sig) != ed25519.SignatureSize {
		return errSignatureInvalid(stageCrypto, "ed25519 signature has wrong length")
	}
	if !ed25519.Verify(pub, msg, sig) {
		return errSignatureInvalid(stageCrypto, "ed25519 signature verification failed")
	}
	return nil
}

// weakEd25519Points lists the canonical small-order points on the edwards25519
// curve (the identity point and the low-order torsion points commonly used in
// cofactor-confusion attacks), encoded little-endian as Ed25519 public keys.
var weakEd25519Points = [][]byte{
	// order-4 point with y = 0 (the all-zero encoding)
	{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
	// order-2 point
	{0xec, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f},
	// order-4 point with y = 0 and the sign bit set
	{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x80},
	// order-8 points
	{0x26, 0xe8, 0x95, 0x8f, 0xc2, 0xb2, 0x27, 0xb0, 0x45, 0xc3, 0xf4, 0x89, 0xf2, 0xef, 0x98, 0xf0,
		0xd5, 0xdf, 0xac, 0x05, 0xd3, 0xc6, 0x33, 0x39, 0xb1, 0x38, 0x02, 0x88, 0x6d, 0x53, 0xfc, 0x05},
	{0xc7, 0x17, 0x6a, 0x70, 0x3d, 0x4d, 0xd8, 0x4f, 0xba, 0x3c, 0x0b, 0x76, 0x0d, 0x10, 0x67, 0x0f,
		0x2a, 0x20, 0x53, 0xfa, 0x2c, 0x39, 0xcc, 0xc6, 0x4e, 0xc7, 0xfd, 0x77, 0x92, 0xac, 0x03, 0x7a},
	{0x26, 0xe8, 0x95, 0x8f, 0xc2, 0xb2, 0x27, 0xb0, 0x45, 0xc3, 0xf4, 0x89, 0xf2, 0xef, 0x98, 0xf0,
		0xd5, 0xdf, 0xac, 0x05, 0xd3, 0xc6, 0x33, 0x39, 0xb1, 0x38, 0x02, 0x88, 0x6d, 0x53, 0xfc, 0x85},
	{0xc7, 0x17, 0x6a, 0x70, 0x3d, 0x4d, 0xd8, 0x4f, 0xba, 0x3c, 0x0b, 0x76, 0x0d, 0x10, 0x67, 0x0f,
		0x2a, 0x20, 0x53, 0xfa, 0x2c, 0x39, 0xcc, 0xc6, 0x4e, 0xc7, 0xfd, 0x77, 0x92, 0xac, 0x03, 0xfa},
	// identity element (0, 1)
	{1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
}

func isWeakEd25519Key(pub ed25519.PublicKey) bool {
	for _, weak := range weakEd25519Points {
		if constantTimeEqual(pub, weak) {
			return true
		}
	}
	return false
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}

// signES256 produces a raw r||s (64-byte) P-256 ECDSA signature, the COSE
// wire format, converting from Go's ASN.1 DER output.
func signES256(priv *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	hash := sha256Sum(msg)
	r, s, err := ecdsa.Sign(rand.Reader, priv, hash)
	if err != nil {
		return nil, errSignatureFailed(stageCrypto, err)
	}
	return rsToFixed(r, s, 32), nil
}

// verifyES256 checks a raw r||s P-256 signature after rejecting off-curve
// and zero-coordinate public keys.
func verifyES256(pub *ecdsa.PublicKey, msg, sig []byte) error {
	if err := checkP256PublicKey(pub); err != nil {
		return err
	}
	if len(sig) != 64 {
		return errSignatureInvalid(stageCrypto, "ecdsa p-256 signature must be 64 bytes (r||s)")
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	hash := sha256Sum(msg)
	if !ecdsa.Verify(pub, hash, r, s) {
		return errSignatureInvalid(stageCrypto, "ecdsa p-256 signature verification failed")
	}
	return nil
}

// checkP256PublicKey rejects the point at infinity, zero coordinates, and
// points not on the P-256 curve (spec.md §5, weak-key rejection), reusing
// crypto/ecdh's constant-time point validation.
func checkP256PublicKey(pub *ecdsa.PublicKey) error {
	if pub == nil || pub.X == nil || pub.Y == nil {
		return errCrypto(stageCrypto, "ecdsa p-256 public key is nil", nil)
	}
	if pub.X.Sign() == 0 && pub.Y.Sign() == 0 {
		return errSignatureInvalid(stageCrypto, "ecdsa p-256 public key is the point at infinity")
	}
	uncompressed := elliptic.Marshal(elliptic.P256(), pub.X, pub.Y)
	if _, err := ecdh.P256().NewPublicKey(uncompressed); err != nil {
		return errSignatureInvalid(stageCrypto, "ecdsa p-256 public key is not a valid curve point")
	}
	return nil
}

// rsToFixed encodes r and s as two fixed-width, left-zero-padded big-endian
// byte strings concatenated together (COSE's r||s signature encoding,
// RFC 9053 §2.1), the opposite of Go's variable-length ASN.1 DER output.
func rsToFixed(r, s *big.Int, size int) []byte {
	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])
	return out
}

func sha256Sum(msg []byte) []byte {
	h := crypto.SHA256.New()
	h.Write(msg)
	return h.Sum(nil)
}

// aesGCMNonceSize is the 96-bit nonce length spec.md §4.5 mandates for both
// A128GCM and A256GCM.
const aesGCMNonceSize = 12

// generateAESGCMNonce returns a fresh CSPRNG nonce for AES-GCM. The core
// generates this nonce itself unless a custom Encryptor supplies its own
// (spec.md §4.5); it is carried in the COSE_Encrypt0 unprotected header's
// 5=iv label, never prepended to the ciphertext.
func generateAESGCMNonce() ([]byte, error) {
	nonce := make([]byte, aesGCMNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errCrypto(stageCrypto, "failed to generate nonce", err)
	}
	return nonce, nil
}

// encryptAESGCM seals plaintext under key and nonce, returning AEAD output
// only (ciphertext with the 16-byte GCM tag appended).
func encryptAESGCM(key, nonce, plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errCrypto(stageCrypto, "invalid aes-gcm key", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errCrypto(stageCrypto, "failed to initialize aes-gcm", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, errCrypto(stageCrypto, "aes-gcm nonce has wrong length", nil)
	}
	return gcm.Seal(nil, nonce, plaintext, aad), nil
}

// decryptAESGCM inverts encryptAESGCM given the nonce carried separately in
// the COSE_Encrypt0 unprotected header.
func decryptAESGCM(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errCrypto(stageCrypto, "invalid aes-gcm key", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errCrypto(stageCrypto, "failed to initialize aes-gcm", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, errDecryptionFailed(stageCrypto, errors.New("aes-gcm nonce has wrong length"))
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, errDecryptionFailed(stageCrypto, errors.New("aes-gcm authentication failed"))
	}
	return plaintext, nil
}

// isAllZero reports whether every byte of b is zero, used to reject
// all-zero symmetric keys and scalar private keys (spec.md §5).
func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
