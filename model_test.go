package claim169

import (
	"bytes"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func sampleClaim() *Claim169 {
	return &Claim169{
		ID:          strPtr("1234567890"),
		FullName:    strPtr("Jane Doe"),
		DateOfBirth: strPtr("1990-01-01"),
		Gender:      intPtr(GenderFemale),
		Photo:       []byte{0xDE, 0xAD, 0xBE, 0xEF},
		PhotoFormat: intPtr(PhotoFormatJPEG),
		RightThumb: []Biometric{
			{Data: []byte{1, 2, 3}, Format: BiometricFormatImage},
		},
	}
}

func TestClaim169RoundTrip(t *testing.T) {
	claim := sampleClaim()

	encoded, err := marshalCanonical(claim)
	if err != nil {
		t.Fatal(err)
	}

	var decoded Claim169
	if err := unmarshalStrict(encoded, &decoded); err != nil {
		t.Fatal(err)
	}

	if decoded.ID == nil || *decoded.ID != *claim.ID {
		t.Errorf("ID mismatch: %v", decoded.ID)
	}
	if decoded.FullName == nil || *decoded.FullName != *claim.FullName {
		t.Errorf("FullName mismatch: %v", decoded.FullName)
	}
	if decoded.Gender == nil || *decoded.Gender != GenderFemale {
		t.Errorf("Gender mismatch: %v", decoded.Gender)
	}
	if !bytes.Equal(decoded.Photo, claim.Photo) {
		t.Errorf("Photo mismatch: %x", decoded.Photo)
	}
	if len(decoded.RightThumb) != 1 || !bytes.Equal(decoded.RightThumb[0].Data, []byte{1, 2, 3}) {
		t.Errorf("RightThumb mismatch: %+v", decoded.RightThumb)
	}
	if decoded.LeftThumb != nil {
		t.Errorf("expected LeftThumb to be absent, got %+v", decoded.LeftThumb)
	}
}

func TestClaim169PreservesUnknownFields(t *testing.T) {
	// Build a raw map with a recognized field (1=id) and an unrecognized
	// one (label 99), simulating a newer producer's payload.
	raw := map[int]interface{}{
		labelID: "abc",
		99:      "future-field-value",
	}
	encoded, err := marshalCanonical(raw)
	if err != nil {
		t.Fatal(err)
	}

	var claim Claim169
	if err := unmarshalStrict(encoded, &claim); err != nil {
		t.Fatal(err)
	}
	if claim.ID == nil || *claim.ID != "abc" {
		t.Fatalf("ID mismatch: %v", claim.ID)
	}
	if len(claim.UnknownFields) != 1 {
		t.Fatalf("expected 1 unknown field, got %d", len(claim.UnknownFields))
	}
	rawVal, ok := claim.UnknownFields[99]
	if !ok {
		t.Fatal("expected unknown field 99 to be preserved")
	}

	// Round trip again: the unknown field must survive byte-for-byte.
	reencoded, err := marshalCanonical(&claim)
	if err != nil {
		t.Fatal(err)
	}
	var again Claim169
	if err := unmarshalStrict(reencoded, &again); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(again.UnknownFields[99], rawVal) {
		t.Errorf("unknown field did not survive re-encode: got %x, want %x", again.UnknownFields[99], rawVal)
	}
}

func TestBiometricOptionalFields(t *testing.T) {
	sub := 2
	issuer := "issuing-authority"
	b := Biometric{Data: []byte{9, 9}, Format: BiometricFormatTemplate, SubFormat: &sub, Issuer: &issuer}

	encoded, err := marshalCanonical(b.toMap())
	if err != nil {
		t.Fatal(err)
	}
	var raw map[int]cbor.RawMessage
	if err := unmarshalStrict(encoded, &raw); err != nil {
		t.Fatal(err)
	}
	back, err := biometricFromRaw(raw)
	if err != nil {
		t.Fatal(err)
	}
	if back.SubFormat == nil || *back.SubFormat != 2 {
		t.Errorf("SubFormat mismatch: %v", back.SubFormat)
	}
	if back.Issuer == nil || *back.Issuer != issuer {
		t.Errorf("Issuer mismatch: %v", back.Issuer)
	}
}

func TestCwtPayloadRoundTrip(t *testing.T) {
	exp := int64(2000000000)
	meta := CwtMeta{Issuer: strPtr("issuer-1"), ExpiresAt: &exp}
	payload := buildCwtPayload(sampleClaim(), meta)

	encoded, err := marshalCanonical(payload)
	if err != nil {
		t.Fatal(err)
	}
	var decoded cwtPayload
	if err := unmarshalStrict(encoded, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Claim169 == nil {
		t.Fatal("expected claim169 to be present")
	}
	if decoded.Issuer == nil || *decoded.Issuer != "issuer-1" {
		t.Errorf("Issuer mismatch: %v", decoded.Issuer)
	}
	if decoded.ExpiresAt == nil || *decoded.ExpiresAt != exp {
		t.Errorf("ExpiresAt mismatch: %v", decoded.ExpiresAt)
	}
}
