package claim169

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
)

func mustEd25519Priv(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return priv
}

func genECDSAP256(t *testing.T) (*ecdsa.PrivateKey, error) {
	t.Helper()
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

func TestEncodeDecodeEd25519SignedRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	claim := sampleClaim()
	encoded, err := NewEncoder().
		SignWithEd25519Seed(priv.Seed()).
		WithKeyID([]byte("kid-1")).
		Execute(claim)
	if err != nil {
		t.Fatal(err)
	}
	if encoded.QRText == "" {
		t.Fatal("expected non-empty encoded text")
	}

	result, err := NewDecoder().
		VerifyWithEd25519Raw(pub).
		Execute(encoded.QRText)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if result.VerificationStatus != VerificationVerified {
		t.Errorf("got status %v, want verified", result.VerificationStatus)
	}
	if result.Claim169.FullName == nil || *result.Claim169.FullName != *claim.FullName {
		t.Errorf("FullName mismatch: %v", result.Claim169.FullName)
	}
	if len(result.Claim169.RightThumb) != 1 {
		t.Errorf("expected one RightThumb sample, got %d", len(result.Claim169.RightThumb))
	}
}

func TestEncodeDecodeUnsignedUnverifiedRoundTrip(t *testing.T) {
	claim := sampleClaim()
	encoded, err := NewEncoder().AllowUnsigned().Execute(claim)
	if err != nil {
		t.Fatal(err)
	}

	result, err := NewDecoder().AllowUnverified().Execute(encoded.QRText)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if result.VerificationStatus != VerificationSkipped {
		t.Errorf("got status %v, want skipped", result.VerificationStatus)
	}
	if result.Claim169.ID == nil || *result.Claim169.ID != *claim.ID {
		t.Errorf("ID mismatch: %v", result.Claim169.ID)
	}
}

func TestDecodeWithoutVerifierOrAllowUnverifiedFails(t *testing.T) {
	claim := sampleClaim()
	encoded, err := NewEncoder().AllowUnsigned().Execute(claim)
	if err != nil {
		t.Fatal(err)
	}

	_, err = NewDecoder().Execute(encoded.QRText)
	assertKind(t, err, KindDecodingConfig)
}

func TestEncodeWithoutSignerOrAllowUnsignedFails(t *testing.T) {
	_, err := NewEncoder().Execute(sampleClaim())
	assertKind(t, err, KindEncodingConfig)
}

func TestEncodeDecodeSignedThenEncryptedRoundTrip(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	key := make([]byte, 32)
	rand.Read(key)

	claim := sampleClaim()
	encoded, err := NewEncoder().
		SignWithEd25519Seed(priv.Seed()).
		EncryptWithAes256Gcm(key).
		Execute(claim)
	if err != nil {
		t.Fatal(err)
	}

	result, err := NewDecoder().
		VerifyWithEd25519Raw(pub).
		DecryptWithAes256Gcm(key).
		Execute(encoded.QRText)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if result.VerificationStatus != VerificationVerified {
		t.Errorf("got status %v, want verified", result.VerificationStatus)
	}
	if result.Claim169.FullName == nil || *result.Claim169.FullName != *claim.FullName {
		t.Errorf("FullName mismatch: %v", result.Claim169.FullName)
	}
}

func TestDecodeEncryptedWithoutDecryptorFails(t *testing.T) {
	priv := mustEd25519Priv(t)
	key := make([]byte, 16)
	rand.Read(key)

	encoded, err := NewEncoder().
		SignWithEd25519Seed(priv.Seed()).
		EncryptWithAes128Gcm(key).
		Execute(sampleClaim())
	if err != nil {
		t.Fatal(err)
	}

	_, err = NewDecoder().AllowUnverified().Execute(encoded.QRText)
	assertKind(t, err, KindKeyNotFound)
}

func TestDecodeExpiredCredential(t *testing.T) {
	priv := mustEd25519Priv(t)
	pub := priv.Public().(ed25519.PublicKey)

	past := time.Unix(1000000000, 0).Unix()
	claim := sampleClaim()
	encoded, err := NewEncoder().
		SignWithEd25519Seed(priv.Seed()).
		WithCwtMeta(CwtMeta{ExpiresAt: &past}).
		Execute(claim)
	if err != nil {
		t.Fatal(err)
	}

	_, err = NewDecoder().VerifyWithEd25519Raw(pub).Execute(encoded.QRText)
	assertKind(t, err, KindExpired)
}

func TestDecodeNotYetValidCredential(t *testing.T) {
	priv := mustEd25519Priv(t)
	pub := priv.Public().(ed25519.PublicKey)

	future := time.Now().Unix() + 1000000
	claim := sampleClaim()
	encoded, err := NewEncoder().
		SignWithEd25519Seed(priv.Seed()).
		WithCwtMeta(CwtMeta{NotBefore: &future}).
		Execute(claim)
	if err != nil {
		t.Fatal(err)
	}

	_, err = NewDecoder().VerifyWithEd25519Raw(pub).Execute(encoded.QRText)
	assertKind(t, err, KindNotYetValid)
}

func TestDecodeWithoutTimestampValidationSkipsExpiry(t *testing.T) {
	priv := mustEd25519Priv(t)
	pub := priv.Public().(ed25519.PublicKey)

	past := int64(1000000000)
	encoded, err := NewEncoder().
		SignWithEd25519Seed(priv.Seed()).
		WithCwtMeta(CwtMeta{ExpiresAt: &past}).
		Execute(sampleClaim())
	if err != nil {
		t.Fatal(err)
	}

	result, err := NewDecoder().
		VerifyWithEd25519Raw(pub).
		WithoutTimestampValidation().
		Execute(encoded.QRText)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	found := false
	for _, w := range result.Warnings {
		if w.Code == WarningTimestampValidationSkipped {
			found = true
		}
	}
	if !found {
		t.Error("expected a timestamp-validation-skipped warning")
	}
}

func TestDecodeAlgorithmMismatch(t *testing.T) {
	priv := mustEd25519Priv(t)
	encoded, err := NewEncoder().
		SignWithEd25519Seed(priv.Seed()).
		Execute(sampleClaim())
	if err != nil {
		t.Fatal(err)
	}

	// Configure a verifier of the wrong algorithm family for this message.
	wrongPriv, err := genECDSAP256(t)
	if err != nil {
		t.Fatal(err)
	}

	_, err = NewDecoder().VerifyWith(&ecdsaP256Verifier{pub: &wrongPriv.PublicKey}).Execute(encoded.QRText)
	assertKind(t, err, KindUnsupportedAlgorithm)
}

func TestSkipBiometricsOmitsSamples(t *testing.T) {
	priv := mustEd25519Priv(t)
	pub := priv.Public().(ed25519.PublicKey)

	encoded, err := NewEncoder().SignWithEd25519Seed(priv.Seed()).Execute(sampleClaim())
	if err != nil {
		t.Fatal(err)
	}

	result, err := NewDecoder().
		VerifyWithEd25519Raw(pub).
		SkipBiometrics().
		Execute(encoded.QRText)
	if err != nil {
		t.Fatal(err)
	}
	if result.Claim169.RightThumb != nil {
		t.Error("expected biometrics to be cleared")
	}
	found := false
	for _, w := range result.Warnings {
		if w.Code == WarningBiometricsSkipped {
			found = true
		}
	}
	if !found {
		t.Error("expected a biometrics-skipped warning")
	}
}

func TestUnknownFieldsProduceWarning(t *testing.T) {
	priv := mustEd25519Priv(t)
	pub := priv.Public().(ed25519.PublicKey)

	claim := sampleClaim()
	claim.UnknownFields = map[int]cbor.RawMessage{200: rawInt(7)}

	encoded, err := NewEncoder().SignWithEd25519Seed(priv.Seed()).Execute(claim)
	if err != nil {
		t.Fatal(err)
	}

	result, err := NewDecoder().VerifyWithEd25519Raw(pub).Execute(encoded.QRText)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, w := range result.Warnings {
		if w.Code == WarningUnknownFields {
			found = true
		}
	}
	if !found {
		t.Error("expected an unknown-fields warning")
	}
}
