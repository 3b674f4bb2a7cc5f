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

// Encoder builds a QR-ready Base45 string from a Claim169 value. Configure
// it with the With*/SignWith*/EncryptWith* methods, then call Execute.
// Mirrors the teacher's Config.Load/checkMandatory idiom: configuration
// problems are recorded as they are set and surfaced at Execute time
// instead of panicking mid-chain.
type Encoder struct {
	signer      signerSlot
	allowUnsig  bool
	encryptor   encryptorSlot
	kid         []byte
	compression compressionMode
	externalAAD []byte
	cwtMeta     CwtMeta

	err *Error
}

// NewEncoder returns an Encoder defaulting to zlib compression and no
// signer configured.
func NewEncoder() *Encoder {
	return &Encoder{compression: defaultCompressionMode()}
}

func (e *Encoder) fail(err *Error) *Encoder {
	if e.err == nil {
		e.err = err
	}
	return e
}

// SignWithEd25519Seed configures signing with an Ed25519 key derived from
// its 32-byte seed.
func (e *Encoder) SignWithEd25519Seed(seed []byte) *Encoder {
	priv, err := parseEd25519PrivateKeySeed(seed)
	if err != nil {
		return e.fail(err.(*Error))
	}
	e.signer.set(&ed25519Signer{priv: priv})
	return e
}

// SignWithEd25519PEM configures signing with a PEM-encoded PKCS#8 Ed25519
// private key.
func (e *Encoder) SignWithEd25519PEM(pemBytes []byte) *Encoder {
	priv, err := parseEd25519PrivateKeyPEM(pemBytes)
	if err != nil {
		return e.fail(err.(*Error))
	}
	e.signer.set(&ed25519Signer{priv: priv})
	return e
}

// SignWithEcdsaP256PEM configures signing with a PEM-encoded P-256 private
// key.
func (e *Encoder) SignWithEcdsaP256PEM(pemBytes []byte) *Encoder {
	priv, err := parseECDSAP256PrivateKeyPEM(pemBytes)
	if err != nil {
		return e.fail(err.(*Error))
	}
	e.signer.set(&ecdsaP256Signer{priv: priv})
	return e
}

// SignWithEcdsaP256Raw configures signing with a raw 32-byte P-256 private
// scalar.
func (e *Encoder) SignWithEcdsaP256Raw(scalar []byte) *Encoder {
	priv, err := parseECDSAP256PrivateKeyRaw(scalar)
	if err != nil {
		return e.fail(err.(*Error))
	}
	e.signer.set(&ecdsaP256Signer{priv: priv})
	return e
}

// SignWith installs a caller-supplied Signer, e.g. one backed by an HSM or
// remote signing service.
func (e *Encoder) SignWith(signer Signer) *Encoder {
	if signer == nil {
		return e.fail(errEncodingConfig("SignWith called with a nil Signer"))
	}
	e.signer.set(signer)
	return e
}

// AllowUnsigned permits Execute to produce an unsigned credential when no
// signer has been configured. Without this, Execute fails closed.
func (e *Encoder) AllowUnsigned() *Encoder {
	e.allowUnsig = true
	return e
}

// EncryptWithAes128Gcm wraps the signed (or unsigned) credential in a
// COSE_Encrypt0 envelope sealed under a 16-byte AES-128 key.
func (e *Encoder) EncryptWithAes128Gcm(key []byte) *Encoder {
	if len(key) != 16 {
		return e.fail(errEncodingConfig("AES-128-GCM key must be 16 bytes"))
	}
	if isAllZero(key) {
		return e.fail(errEncodingConfig("AES-128-GCM key must not be all-zero"))
	}
	e.encryptor.set(&aesGCMEncryptor{key: append([]byte(nil), key...), alg: AlgA128GCM})
	return e
}

// EncryptWithAes256Gcm wraps the signed (or unsigned) credential in a
// COSE_Encrypt0 envelope sealed under a 32-byte AES-256 key.
func (e *Encoder) EncryptWithAes256Gcm(key []byte) *Encoder {
	if len(key) != 32 {
		return e.fail(errEncodingConfig("AES-256-GCM key must be 32 bytes"))
	}
	if isAllZero(key) {
		return e.fail(errEncodingConfig("AES-256-GCM key must not be all-zero"))
	}
	e.encryptor.set(&aesGCMEncryptor{key: append([]byte(nil), key...), alg: AlgA256GCM})
	return e
}

// EncryptWith installs a caller-supplied Encryptor.
func (e *Encoder) EncryptWith(enc Encryptor) *Encoder {
	if enc == nil {
		return e.fail(errEncodingConfig("EncryptWith called with a nil Encryptor"))
	}
	e.encryptor.set(enc)
	return e
}

// WithKeyID sets the COSE kid (key identifier) unprotected header, written
// on both the signing and encryption envelopes.
func (e *Encoder) WithKeyID(kid []byte) *Encoder {
	e.kid = kid
	return e
}

// WithCompression selects the compression container. CompressionBrotli and
// CompressionAdaptiveBrotli use the quality level set by WithBrotliLevel
// (0 when it is not called).
func (e *Encoder) WithCompression(c Compression) *Encoder {
	e.compression.kind = c
	return e
}

// WithBrotliLevel sets the Brotli quality level (0-11) used when the
// compression mode is CompressionBrotli or CompressionAdaptiveBrotli.
func (e *Encoder) WithBrotliLevel(level int) *Encoder {
	if level < 0 || level > 11 {
		return e.fail(errEncodingConfig("brotli level must be between 0 and 11"))
	}
	e.compression.brotliLevel = level
	return e
}

// WithExternalAAD sets additional authenticated data folded into both the
// Sig_structure and the Enc_structure.
func (e *Encoder) WithExternalAAD(aad []byte) *Encoder {
	e.externalAAD = aad
	return e
}

// WithCwtMeta sets the CWT claims (iss/sub/exp/nbf/iat) carried alongside
// Claim169.
func (e *Encoder) WithCwtMeta(meta CwtMeta) *Encoder {
	e.cwtMeta = meta
	return e
}

func (e *Encoder) validate() error {
	if e.err != nil {
		return e.err
	}
	if e.signer.v == nil && !e.allowUnsig {
		return errEncodingConfig("no signer configured; call a SignWith* method or AllowUnsigned")
	}
	return nil
}

// Execute runs the encode pipeline: canonical CBOR encode, COSE_Sign1
// (signed or, with AllowUnsigned, an alg-absent empty-signature envelope),
// optional COSE_Encrypt0, a CWT tag wrapper, compression, then Base45. It
// returns the QR-ready text payload together with the compression
// container actually used, and zeroizes the configured signer/encryptor key
// material on success (spec.md §4.6 step 6, §3 Ownership).
func (e *Encoder) Execute(claim *Claim169) (EncodeResult, error) {
	if claim == nil {
		return EncodeResult{}, errEncodingConfig("claim must not be nil")
	}
	if err := e.validate(); err != nil {
		return EncodeResult{}, err
	}

	payload := buildCwtPayload(claim, e.cwtMeta)
	body, err := marshalCanonical(payload)
	if err != nil {
		return EncodeResult{}, errCborEncode("encode", err)
	}

	if e.signer.v != nil {
		body, err = encodeSign1(e.signer.v, e.kid, body, e.externalAAD)
	} else {
		body, err = encodeUnsignedSign1(e.kid, body)
	}
	if err != nil {
		return EncodeResult{}, err
	}

	if e.encryptor.v != nil {
		body, err = encodeEncrypt0(e.encryptor.v, e.kid, body, e.externalAAD)
		if err != nil {
			return EncodeResult{}, err
		}
	}

	body, err = wrapCWT(body)
	if err != nil {
		return EncodeResult{}, err
	}

	compressed, usedCompression, err := compress(body, e.compression)
	if err != nil {
		return EncodeResult{}, errIo("compress", "failed to compress payload", err)
	}

	qrText := base45Encode(compressed)

	if km, ok := e.signer.v.(keyMaterial); ok {
		km.zero()
	}
	if km, ok := e.encryptor.v.(keyMaterial); ok {
		km.zero()
	}

	return EncodeResult{QRText: qrText, CompressionUsed: usedCompression}, nil
}
