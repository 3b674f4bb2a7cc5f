package claim169

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestSign1EncodeDecodeVerify(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	signer := &ed25519Signer{priv: priv}
	verifier := &ed25519Verifier{pub: pub}

	payload := []byte{0xA1, 0x01, 0x02} // arbitrary CBOR bytes
	kid := []byte("key-1")

	encoded, err := encodeSign1(signer, kid, payload, nil)
	if err != nil {
		t.Fatal(err)
	}

	body, protected, err := decodeSign1(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(body.Payload, payload) {
		t.Errorf("payload mismatch: %x", body.Payload)
	}
	gotKid, ok, err := headerBytes(body.Unprotected, headerKid)
	if err != nil || !ok || !bytes.Equal(gotKid, kid) {
		t.Errorf("kid mismatch: %x ok=%v err=%v", gotKid, ok, err)
	}
	alg, ok, err := headerInt(protected, headerAlg)
	if err != nil || !ok || alg != AlgEdDSA {
		t.Errorf("alg mismatch: %d ok=%v err=%v", alg, ok, err)
	}

	if err := verifySign1(body, verifier, nil); err != nil {
		t.Fatalf("verification failed: %v", err)
	}
}

func TestSign1VerifyFailsOnTamperedPayload(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	signer := &ed25519Signer{priv: priv}
	verifier := &ed25519Verifier{pub: pub}

	encoded, err := encodeSign1(signer, nil, []byte("original"), nil)
	if err != nil {
		t.Fatal(err)
	}
	body, _, err := decodeSign1(encoded)
	if err != nil {
		t.Fatal(err)
	}
	body.Payload = []byte("tampered")

	err = verifySign1(body, verifier, nil)
	assertKind(t, err, KindSignatureInvalid)
}

func TestDecodeSign1RejectsWrongTag(t *testing.T) {
	key := make([]byte, 32)
	enc := &aesGCMEncryptor{key: key, alg: AlgA256GCM}
	wrapped, err := encodeEncrypt0(enc, nil, []byte("plaintext"), nil)
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = decodeSign1(wrapped)
	assertKind(t, err, KindUnsupportedCoseType)
}

func TestEncrypt0EncodeDecodeRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	rand.Read(key)
	enc := &aesGCMEncryptor{key: key, alg: AlgA256GCM}
	dec := &aesGCMDecryptor{key: key, alg: AlgA256GCM}

	plaintext := []byte("a complete COSE_Sign1 object would go here")
	encoded, err := encodeEncrypt0(enc, []byte("kid-2"), plaintext, nil)
	if err != nil {
		t.Fatal(err)
	}

	body, protected, err := decodeEncrypt0(encoded)
	if err != nil {
		t.Fatal(err)
	}
	alg, ok, err := headerInt(protected, headerAlg)
	if err != nil || !ok || alg != AlgA256GCM {
		t.Errorf("alg mismatch: %d ok=%v err=%v", alg, ok, err)
	}

	opened, err := decryptEncrypt0(body, dec, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("plaintext mismatch: %q", opened)
	}
}

func TestDetectOuterCoseType(t *testing.T) {
	key := make([]byte, 16)
	enc := &aesGCMEncryptor{key: key, alg: AlgA128GCM}
	encoded, err := encodeEncrypt0(enc, nil, []byte("x"), nil)
	if err != nil {
		t.Fatal(err)
	}
	n, ok := tryDetectOuterCoseType(encoded)
	if !ok || n != tagCoseEncrypt0 {
		t.Errorf("got tag %d ok=%v, want %d", n, ok, tagCoseEncrypt0)
	}

	_, untagged := tryDetectOuterCoseType([]byte{0xA1, 0x01, 0x02})
	if untagged {
		t.Error("expected a plain CBOR map to be reported as untagged")
	}
}

func TestEncrypt0CarriesNonceInUnprotectedHeader(t *testing.T) {
	key := make([]byte, 32)
	rand.Read(key)
	enc := &aesGCMEncryptor{key: key, alg: AlgA256GCM}

	encoded, err := encodeEncrypt0(enc, []byte("kid-3"), []byte("plaintext"), nil)
	if err != nil {
		t.Fatal(err)
	}
	body, protected, err := decodeEncrypt0(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := headerBytes(protected, headerKid); ok {
		t.Error("kid must not be carried in the protected header")
	}
	if _, ok, _ := headerBytes(protected, headerIV); ok {
		t.Error("iv must not be carried in the protected header")
	}
	nonce, ok, err := headerBytes(body.Unprotected, headerIV)
	if err != nil || !ok {
		t.Fatalf("expected 5=iv in unprotected header, ok=%v err=%v", ok, err)
	}
	if len(nonce) != aesGCMNonceSize {
		t.Errorf("got nonce length %d, want %d", len(nonce), aesGCMNonceSize)
	}
	if kid, ok, _ := headerBytes(body.Unprotected, headerKid); !ok || string(kid) != "kid-3" {
		t.Errorf("expected kid-3 in unprotected header, got %q ok=%v", kid, ok)
	}
}

func TestUnsignedSign1HasAlgAbsentProtectedHeaderAndEmptySignature(t *testing.T) {
	encoded, err := encodeUnsignedSign1([]byte("kid-4"), []byte{0xA0})
	if err != nil {
		t.Fatal(err)
	}
	body, protected, err := decodeSign1(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := headerInt(protected, headerAlg); ok {
		t.Error("expected alg-absent protected header for an unsigned credential")
	}
	if len(body.Signature) != 0 {
		t.Errorf("expected an empty signature element, got %d bytes", len(body.Signature))
	}
	if kid, ok, _ := headerBytes(body.Unprotected, headerKid); !ok || string(kid) != "kid-4" {
		t.Errorf("expected kid-4 in unprotected header, got %q ok=%v", kid, ok)
	}
}

func TestCWTTagRoundTrip(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	signer := &ed25519Signer{priv: priv}
	verifier := &ed25519Verifier{pub: pub}

	sign1, err := encodeSign1(signer, nil, []byte{0xA0}, nil)
	if err != nil {
		t.Fatal(err)
	}
	wrapped, err := wrapCWT(sign1)
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := tryDetectOuterCoseType(wrapped); !ok || n != tagCwt {
		t.Fatalf("expected outer tag %d, got %d ok=%v", tagCwt, n, ok)
	}

	content, kind, isRaw, err := classifyCoseEnvelope(wrapped)
	if err != nil {
		t.Fatal(err)
	}
	if isRaw || kind != tagCoseSign1 {
		t.Fatalf("expected a CWT-wrapped Sign1 to classify as Sign1, got kind=%d isRaw=%v", kind, isRaw)
	}
	body, _, err := decodeSign1(content)
	if err != nil {
		t.Fatal(err)
	}
	if err := verifySign1(body, verifier, nil); err != nil {
		t.Fatalf("verification of CWT-unwrapped Sign1 failed: %v", err)
	}
}

func TestClassifyCoseEnvelopeDetectsBareArraysByArity(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	signer := &ed25519Signer{priv: priv}

	tagged, err := encodeSign1(signer, nil, []byte{0xA0}, nil)
	if err != nil {
		t.Fatal(err)
	}
	bare, err := stripOptionalTag(tagged, tagCoseSign1)
	if err != nil {
		t.Fatal(err)
	}

	content, kind, isRaw, err := classifyCoseEnvelope(bare)
	if err != nil {
		t.Fatal(err)
	}
	if isRaw || kind != tagCoseSign1 {
		t.Fatalf("expected a bare 4-element array to classify as Sign1, got kind=%d isRaw=%v", kind, isRaw)
	}
	if !bytes.Equal(content, bare) {
		t.Error("classifyCoseEnvelope should not alter an already-untagged array")
	}
}

func TestClassifyCoseEnvelopeRejectsWrongArity(t *testing.T) {
	_, _, _, err := classifyCoseEnvelope([]byte{0x82, 0x01, 0x02}) // a bare 2-element array
	assertKind(t, err, KindUnsupportedCoseType)
}

func TestExtractX509HeadersProtectedTakesPrecedence(t *testing.T) {
	protected := map[int]cbor.RawMessage{headerX5Chain: rawBytesSliceForTest([][]byte{[]byte("real-cert")})}
	unprotected := map[int]cbor.RawMessage{headerX5Chain: rawBytesSliceForTest([][]byte{[]byte("forged-cert")})}

	headers := extractX509Headers(protected, unprotected)
	if len(headers.X5Chain) != 1 || string(headers.X5Chain[0]) != "real-cert" {
		t.Errorf("expected the protected X5Chain to win, got %v", headers.X5Chain)
	}
}

func rawBytesSliceForTest(v [][]byte) cbor.RawMessage {
	b, err := marshalCanonical(v)
	if err != nil {
		panic(err)
	}
	return b
}

func TestSigStructureIsDeterministic(t *testing.T) {
	protected := []byte{0xA1, 0x01, 0x27}
	a, err := buildSigStructure(protected, nil, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := buildSigStructure(protected, nil, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("Sig_structure encoding is not deterministic")
	}
}
