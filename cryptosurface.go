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
	"crypto/ecdsa"
	"crypto/ed25519"
)

// Signer produces a COSE signature over an already-assembled Sig_structure.
// Implementations supplied by a host application (via WithSigner) let the
// core remain agnostic of where private key material lives, e.g. an HSM or
// a remote signing service.
type Signer interface {
	Sign(sigStructure []byte) (signature []byte, err error)
	Algorithm() int
}

// Verifier checks a COSE signature over an already-assembled Sig_structure.
type Verifier interface {
	Verify(sigStructure, signature []byte) error
	Algorithm() int
}

// Encryptor seals a plaintext COSE_Encrypt0 payload under aad using the
// given nonce, which the core generates and then carries separately in the
// unprotected header's 5=iv label (spec.md §4.4, §4.5).
type Encryptor interface {
	Encrypt(nonce, plaintext, aad []byte) (ciphertext []byte, err error)
	Algorithm() int
}

// Decryptor opens a COSE_Encrypt0 ciphertext under aad using the nonce read
// back out of the unprotected header.
type Decryptor interface {
	Decrypt(nonce, ciphertext, aad []byte) (plaintext []byte, err error)
	Algorithm() int
}

// keyMaterial is implemented by the built-in Signer/Verifier/Encryptor/
// Decryptor so a slot can scrub key bytes when it is replaced or released.
type keyMaterial interface {
	zero()
}

// --- built-in Ed25519 ---

type ed25519Signer struct{ priv ed25519.PrivateKey }

func (s *ed25519Signer) Sign(msg []byte) ([]byte, error) { return signEd25519(s.priv, msg) }
func (s *ed25519Signer) Algorithm() int                  { return AlgEdDSA }
func (s *ed25519Signer) zero()                           { zeroize(s.priv) }

type ed25519Verifier struct{ pub ed25519.PublicKey }

func (v *ed25519Verifier) Verify(msg, sig []byte) error { return verifyEd25519(v.pub, msg, sig) }
func (v *ed25519Verifier) Algorithm() int               { return AlgEdDSA }
func (v *ed25519Verifier) zero()                        {}

// --- built-in ECDSA P-256 ---

type ecdsaP256Signer struct{ priv *ecdsa.PrivateKey }

func (s *ecdsaP256Signer) Sign(msg []byte) ([]byte, error) { return signES256(s.priv, msg) }
func (s *ecdsaP256Signer) Algorithm() int                  { return AlgES256 }
func (s *ecdsaP256Signer) zero() {
	if s.priv != nil && s.priv.D != nil {
		s.priv.D.SetInt64(0)
	}
}

type ecdsaP256Verifier struct{ pub *ecdsa.PublicKey }

func (v *ecdsaP256Verifier) Verify(msg, sig []byte) error { return verifyES256(v.pub, msg, sig) }
func (v *ecdsaP256Verifier) Algorithm() int               { return AlgES256 }
func (v *ecdsaP256Verifier) zero()                        {}

// --- built-in AES-GCM ---

type aesGCMEncryptor struct {
	key []byte
	alg int
}

func (e *aesGCMEncryptor) Encrypt(nonce, plaintext, aad []byte) ([]byte, error) {
	return encryptAESGCM(e.key, nonce, plaintext, aad)
}
func (e *aesGCMEncryptor) Algorithm() int { return e.alg }
func (e *aesGCMEncryptor) zero()          { zeroize(e.key) }

type aesGCMDecryptor struct {
	key []byte
	alg int
}

func (d *aesGCMDecryptor) Decrypt(nonce, ciphertext, aad []byte) ([]byte, error) {
	return decryptAESGCM(d.key, nonce, ciphertext, aad)
}
func (d *aesGCMDecryptor) Algorithm() int { return d.alg }
func (d *aesGCMDecryptor) zero()          { zeroize(d.key) }

// --- callback adapters, for hosts that keep key material outside the process ---

type callbackSigner struct {
	alg int
	fn  func(sigStructure []byte) ([]byte, error)
}

func (s *callbackSigner) Sign(sigStructure []byte) ([]byte, error) { return s.fn(sigStructure) }
func (s *callbackSigner) Algorithm() int                          { return s.alg }

type callbackVerifier struct {
	alg int
	fn  func(sigStructure, signature []byte) error
}

func (v *callbackVerifier) Verify(sigStructure, signature []byte) error {
	return v.fn(sigStructure, signature)
}
func (v *callbackVerifier) Algorithm() int { return v.alg }

type callbackEncryptor struct {
	alg int
	fn  func(nonce, plaintext, aad []byte) ([]byte, error)
}

func (e *callbackEncryptor) Encrypt(nonce, plaintext, aad []byte) ([]byte, error) {
	return e.fn(nonce, plaintext, aad)
}
func (e *callbackEncryptor) Algorithm() int { return e.alg }

type callbackDecryptor struct {
	alg int
	fn  func(nonce, ciphertext, aad []byte) ([]byte, error)
}

func (d *callbackDecryptor) Decrypt(nonce, ciphertext, aad []byte) ([]byte, error) {
	return d.fn(nonce, ciphertext, aad)
}
func (d *callbackDecryptor) Algorithm() int { return d.alg }

// --- tagged slots: {none, builtin, callback} with last-write-wins replacement ---

type signerSlot struct{ v Signer }

func (s *signerSlot) set(v Signer) {
	if km, ok := s.v.(keyMaterial); ok {
		km.zero()
	}
	s.v = v
}

type verifierSlot struct{ v Verifier }

func (s *verifierSlot) set(v Verifier) {
	if km, ok := s.v.(keyMaterial); ok {
		km.zero()
	}
	s.v = v
}

type encryptorSlot struct{ v Encryptor }

func (s *encryptorSlot) set(v Encryptor) {
	if km, ok := s.v.(keyMaterial); ok {
		km.zero()
	}
	s.v = v
}

type decryptorSlot struct{ v Decryptor }

func (s *decryptorSlot) set(v Decryptor) {
	if km, ok := s.v.(keyMaterial); ok {
		km.zero()
	}
	s.v = v
}
