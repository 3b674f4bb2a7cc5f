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
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/pem"
	"math/big"
)

func bigIntFromBytes(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

const stageKeys = "keys"

// parseEd25519PublicKeyPEM parses a PEM-encoded SubjectPublicKeyInfo block
// holding an Ed25519 public key.
func parseEd25519PublicKeyPEM(data []byte) (ed25519.PublicKey, error) {
	raw, err := pemToDER(data)
	if err != nil {
		return nil, err
	}
	pub, err := x509.ParsePKIXPublicKey(raw)
	if err != nil {
		return nil, errCrypto(stageKeys, "failed to parse PKIX public key", err)
	}
	key, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, errCrypto(stageKeys, "PEM block does not contain an Ed25519 public key", nil)
	}
	return key, nil
}

// parseEd25519PublicKeyRaw accepts the bare 32-byte Ed25519 public key.
func parseEd25519PublicKeyRaw(raw []byte) (ed25519.PublicKey, error) {
	if len(raw) != ed25519.PublicKeySize {
		return nil, errCrypto(stageKeys, "ed25519 public key must be 32 bytes", nil)
	}
	return ed25519.PublicKey(raw), nil
}

// parseEd25519PrivateKeyPEM parses a PEM-encoded PKCS#8 block holding an
// Ed25519 private key.
func parseEd25519PrivateKeyPEM(data []byte) (ed25519.PrivateKey, error) {
	raw, err := pemToDER(data)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS8PrivateKey(raw)
	if err != nil {
		return nil, errCrypto(stageKeys, "failed to parse PKCS8 private key", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, errCrypto(stageKeys, "PEM block does not contain an Ed25519 private key", nil)
	}
	return priv, nil
}

// parseEd25519PrivateKeySeed builds an Ed25519 private key from its 32-byte
// seed, the format most host key stores actually hold.
func parseEd25519PrivateKeySeed(seed []byte) (ed25519.PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errCrypto(stageKeys, "ed25519 seed must be 32 bytes", nil)
	}
	if isAllZero(seed) {
		return nil, errCrypto(stageKeys, "ed25519 seed must not be all-zero", nil)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// parseECDSAP256PublicKeyPEM parses a PEM-encoded SubjectPublicKeyInfo block
// holding a P-256 public key.
func parseECDSAP256PublicKeyPEM(data []byte) (*ecdsa.PublicKey, error) {
	raw, err := pemToDER(data)
	if err != nil {
		return nil, err
	}
	pub, err := x509.ParsePKIXPublicKey(raw)
	if err != nil {
		return nil, errCrypto(stageKeys, "failed to parse PKIX public key", err)
	}
	key, ok := pub.(*ecdsa.PublicKey)
	if !ok || key.Curve != elliptic.P256() {
		return nil, errCrypto(stageKeys, "PEM block does not contain a P-256 public key", nil)
	}
	return key, nil
}

// parseECDSAP256PublicKeyRaw accepts a SEC1 point encoding: uncompressed
// (0x04 || X || Y, 65 bytes) or compressed (0x02/0x03 || X, 33 bytes).
func parseECDSAP256PublicKeyRaw(raw []byte) (*ecdsa.PublicKey, error) {
	curve := elliptic.P256()

	if len(raw) == 33 {
		x, y := elliptic.UnmarshalCompressed(curve, raw)
		if x == nil {
			return nil, errCrypto(stageKeys, "invalid P-256 point encoding", nil)
		}
		raw = elliptic.Marshal(curve, x, y)
	}

	// Route through crypto/ecdh for point validation (rejects off-curve,
	// infinity, and non-canonical encodings) even though the result is
	// discarded in favor of the plain ecdsa.PublicKey built below.
	pub, err := ecdh.P256().NewPublicKey(raw)
	if err != nil {
		return nil, errCrypto(stageKeys, "invalid P-256 point encoding", err)
	}
	rawUncompressed := pub.Bytes()
	if len(rawUncompressed) != 65 {
		return nil, errCrypto(stageKeys, "unexpected P-256 public key encoding length", nil)
	}
	bx := rawUncompressed[1:33]
	by := rawUncompressed[33:65]
	ecdsaPub := &ecdsa.PublicKey{
		Curve: curve,
		X:     bigIntFromBytes(bx),
		Y:     bigIntFromBytes(by),
	}
	return ecdsaPub, nil
}

// parseECDSAP256PrivateKeyPEM parses a PEM-encoded PKCS#8 or SEC1 block
// holding a P-256 private key.
func parseECDSAP256PrivateKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	raw, err := pemToDER(data)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParseECPrivateKey(raw); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(raw)
	if err != nil {
		return nil, errCrypto(stageKeys, "failed to parse P-256 private key", err)
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok || priv.Curve != elliptic.P256() {
		return nil, errCrypto(stageKeys, "PEM block does not contain a P-256 private key", nil)
	}
	return priv, nil
}

// parseECDSAP256PrivateKeyRaw builds a P-256 private key from its 32-byte
// scalar, rejecting the all-zero scalar per spec.md §5.
func parseECDSAP256PrivateKeyRaw(raw []byte) (*ecdsa.PrivateKey, error) {
	if len(raw) != 32 {
		return nil, errCrypto(stageKeys, "ecdsa p-256 private scalar must be 32 bytes", nil)
	}
	if isAllZero(raw) {
		return nil, errCrypto(stageKeys, "ecdsa p-256 private scalar must not be all-zero", nil)
	}
	curve := elliptic.P256()
	d := bigIntFromBytes(raw)
	x, y := curve.ScalarBaseMult(raw)
	priv := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         d,
	}
	return priv, nil
}

func pemToDER(data []byte) ([]byte, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errCrypto(stageKeys, "no PEM block found", nil)
	}
	return block.Bytes, nil
}
