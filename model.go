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
	"github.com/fxamacker/cbor/v2" // imports as package "cbor"
)

// Claim169 CBOR labels, see spec.md §3.
const (
	labelID                 = 1
	labelVersion            = 2
	labelLanguage           = 3
	labelFullName           = 4
	labelFirstName          = 5
	labelMiddleName         = 6
	labelLastName           = 7
	labelDateOfBirth        = 8
	labelGender             = 9
	labelAddress            = 10
	labelEmail              = 11
	labelPhone              = 12
	labelNationality        = 13
	labelMaritalStatus      = 14
	labelGuardian           = 15
	labelPhoto              = 16
	labelPhotoFormat        = 17
	labelBestQualityFingers = 18
	labelSecondaryFullName  = 19
	labelSecondaryLanguage  = 20
	labelLocationCode       = 21
	labelLegalStatus        = 22
	labelCountryOfIssuance  = 23

	labelRightThumb        = 50
	labelRightIndexFinger  = 51
	labelRightMiddleFinger = 52
	labelRightRingFinger   = 53
	labelRightLittleFinger = 54
	labelLeftThumb         = 55
	labelLeftIndexFinger   = 56
	labelLeftMiddleFinger  = 57
	labelLeftRingFinger    = 58
	labelLeftLittleFinger  = 59
	labelRightIris         = 60
	labelLeftIris          = 61
	labelFace              = 62
	labelRightPalm         = 63
	labelLeftPalm          = 64
	labelVoice             = 65
)

// Gender values, spec.md §3. Decoders preserve any other value as a
// warning rather than rejecting the credential.
const (
	GenderMale   = 1
	GenderFemale = 2
	GenderOther  = 3
)

// PhotoFormat values, spec.md §3.
const (
	PhotoFormatJPEG     = 1
	PhotoFormatJPEG2000 = 2
	PhotoFormatAVIF     = 3
	PhotoFormatWEBP     = 4
)

// BiometricFormat values for Biometric.Format, spec.md §3.
const (
	BiometricFormatImage    = 0
	BiometricFormatTemplate = 1
	BiometricFormatSound    = 2
	BiometricFormatBioHash  = 3
)

// Biometric is one captured biometric sample. Format/SubFormat follow the
// MOSIP Claim 169 biometric sub-schema; Issuer is the optional issuing
// authority for the sample.
type Biometric struct {
	Data      []byte
	Format    int
	SubFormat *int
	Issuer    *string
}

func (b Biometric) toMap() map[int]interface{} {
	m := map[int]interface{}{
		0: b.Data,
		1: b.Format,
	}
	if b.SubFormat != nil {
		m[2] = *b.SubFormat
	}
	if b.Issuer != nil {
		m[3] = *b.Issuer
	}
	return m
}

func biometricFromRaw(raw map[int]cbor.RawMessage) (Biometric, error) {
	var b Biometric

	if v, ok := raw[0]; ok {
		if err := unmarshalStrict(v, &b.Data); err != nil {
			return b, errCborParse("claim169", "biometric field 0 (data) must be a byte string", err)
		}
	}
	if v, ok := raw[1]; ok {
		if err := unmarshalStrict(v, &b.Format); err != nil {
			return b, errCborParse("claim169", "biometric field 1 (format) must be an integer", err)
		}
	}
	if v, ok := raw[2]; ok {
		var sf int
		if err := unmarshalStrict(v, &sf); err != nil {
			return b, errCborParse("claim169", "biometric field 2 (subFormat) must be an integer", err)
		}
		b.SubFormat = &sf
	}
	if v, ok := raw[3]; ok {
		var issuer string
		if err := unmarshalStrict(v, &issuer); err != nil {
			return b, errCborParse("claim169", "biometric field 3 (issuer) must be a text string", err)
		}
		b.Issuer = &issuer
	}

	return b, nil
}

// Claim169 is the identity-data map carried under CWT claim 169.
//
// Optional scalar fields are modeled as pointers so the zero value and
// "field absent" remain distinguishable, matching the CBOR wire contract
// where an absent field is an omitted map key, not an encoded zero.
type Claim169 struct {
	ID                 *string
	Version            *string
	Language           *string
	FullName           *string
	FirstName          *string
	MiddleName         *string
	LastName           *string
	DateOfBirth        *string
	Gender             *int
	Address            *string
	Email              *string
	Phone              *string
	Nationality        *string
	MaritalStatus      *int
	Guardian           *string
	Photo              []byte
	PhotoFormat        *int
	BestQualityFingers []int
	SecondaryFullName  *string
	SecondaryLanguage  *string
	LocationCode       *string
	LegalStatus        *string
	CountryOfIssuance  *string

	RightThumb        []Biometric
	RightIndexFinger  []Biometric
	RightMiddleFinger []Biometric
	RightRingFinger   []Biometric
	RightLittleFinger []Biometric
	LeftThumb         []Biometric
	LeftIndexFinger   []Biometric
	LeftMiddleFinger  []Biometric
	LeftRingFinger    []Biometric
	LeftLittleFinger  []Biometric
	RightIris         []Biometric
	LeftIris          []Biometric
	Face              []Biometric
	RightPalm         []Biometric
	LeftPalm          []Biometric
	Voice             []Biometric

	// UnknownFields captures CBOR map entries at unrecognized integer
	// labels verbatim, so encoding after decode round-trips bytes this
	// package does not understand (spec.md §3, §4.3, §8).
	UnknownFields map[int]cbor.RawMessage
}

var biometricFieldLabels = []struct {
	label int
	get   func(*Claim169) []Biometric
	set   func(*Claim169, []Biometric)
}{
	{labelRightThumb, func(c *Claim169) []Biometric { return c.RightThumb }, func(c *Claim169, v []Biometric) { c.RightThumb = v }},
	{labelRightIndexFinger, func(c *Claim169) []Biometric { return c.RightIndexFinger }, func(c *Claim169, v []Biometric) { c.RightIndexFinger = v }},
	{labelRightMiddleFinger, func(c *Claim169) []Biometric { return c.RightMiddleFinger }, func(c *Claim169, v []Biometric) { c.RightMiddleFinger = v }},
	{labelRightRingFinger, func(c *Claim169) []Biometric { return c.RightRingFinger }, func(c *Claim169, v []Biometric) { c.RightRingFinger = v }},
	{labelRightLittleFinger, func(c *Claim169) []Biometric { return c.RightLittleFinger }, func(c *Claim169, v []Biometric) { c.RightLittleFinger = v }},
	{labelLeftThumb, func(c *Claim169) []Biometric { return c.LeftThumb }, func(c *Claim169, v []Biometric) { c.LeftThumb = v }},
	{labelLeftIndexFinger, func(c *Claim169) []Biometric { return c.LeftIndexFinger }, func(c *Claim169, v []Biometric) { c.LeftIndexFinger = v }},
	{labelLeftMiddleFinger, func(c *Claim169) []Biometric { return c.LeftMiddleFinger }, func(c *Claim169, v []Biometric) { c.LeftMiddleFinger = v }},
	{labelLeftRingFinger, func(c *Claim169) []Biometric { return c.LeftRingFinger }, func(c *Claim169, v []Biometric) { c.LeftRingFinger = v }},
	{labelLeftLittleFinger, func(c *Claim169) []Biometric { return c.LeftLittleFinger }, func(c *Claim169, v []Biometric) { c.LeftLittleFinger = v }},
	{labelRightIris, func(c *Claim169) []Biometric { return c.RightIris }, func(c *Claim169, v []Biometric) { c.RightIris = v }},
	{labelLeftIris, func(c *Claim169) []Biometric { return c.LeftIris }, func(c *Claim169, v []Biometric) { c.LeftIris = v }},
	{labelFace, func(c *Claim169) []Biometric { return c.Face }, func(c *Claim169, v []Biometric) { c.Face = v }},
	{labelRightPalm, func(c *Claim169) []Biometric { return c.RightPalm }, func(c *Claim169, v []Biometric) { c.RightPalm = v }},
	{labelLeftPalm, func(c *Claim169) []Biometric { return c.LeftPalm }, func(c *Claim169, v []Biometric) { c.LeftPalm = v }},
	{labelVoice, func(c *Claim169) []Biometric { return c.Voice }, func(c *Claim169, v []Biometric) { c.Voice = v }},
}

// MarshalCBOR implements cbor.Marshaler, assembling the demographic and
// biometric fields plus any preserved unknown fields into one canonically
// ordered CBOR map.
func (c Claim169) MarshalCBOR() ([]byte, error) {
	m := map[int]interface{}{}

	putStr := func(label int, v *string) {
		if v != nil {
			m[label] = *v
		}
	}
	putInt := func(label int, v *int) {
		if v != nil {
			m[label] = *v
		}
	}

	putStr(labelID, c.ID)
	putStr(labelVersion, c.Version)
	putStr(labelLanguage, c.Language)
	putStr(labelFullName, c.FullName)
	putStr(labelFirstName, c.FirstName)
	putStr(labelMiddleName, c.MiddleName)
	putStr(labelLastName, c.LastName)
	putStr(labelDateOfBirth, c.DateOfBirth)
	putInt(labelGender, c.Gender)
	putStr(labelAddress, c.Address)
	putStr(labelEmail, c.Email)
	putStr(labelPhone, c.Phone)
	putStr(labelNationality, c.Nationality)
	putInt(labelMaritalStatus, c.MaritalStatus)
	putStr(labelGuardian, c.Guardian)
	if c.Photo != nil {
		m[labelPhoto] = c.Photo
	}
	putInt(labelPhotoFormat, c.PhotoFormat)
	if c.BestQualityFingers != nil {
		m[labelBestQualityFingers] = c.BestQualityFingers
	}
	putStr(labelSecondaryFullName, c.SecondaryFullName)
	putStr(labelSecondaryLanguage, c.SecondaryLanguage)
	putStr(labelLocationCode, c.LocationCode)
	putStr(labelLegalStatus, c.LegalStatus)
	putStr(labelCountryOfIssuance, c.CountryOfIssuance)

	for _, f := range biometricFieldLabels {
		slice := f.get(&c)
		if slice == nil {
			continue
		}
		entries := make([]map[int]interface{}, len(slice))
		for i, b := range slice {
			entries[i] = b.toMap()
		}
		m[f.label] = entries
	}

	for label, raw := range c.UnknownFields {
		m[label] = raw
	}

	return marshalCanonical(m)
}

// UnmarshalCBOR implements cbor.Unmarshaler. Unrecognized integer labels
// are captured verbatim in UnknownFields instead of rejecting the message.
func (c *Claim169) UnmarshalCBOR(data []byte) error {
	var raw map[int]cbor.RawMessage
	if err := unmarshalStrict(data, &raw); err != nil {
		return errCborParse("claim169", "claim 169 value must be a CBOR map", err)
	}

	getStr := func(label int) (*string, error) {
		v, ok := raw[label]
		if !ok {
			return nil, nil
		}
		var s string
		if err := unmarshalStrict(v, &s); err != nil {
			return nil, errCborParse("claim169", "field must be a text string", err)
		}
		return &s, nil
	}
	getInt := func(label int) (*int, error) {
		v, ok := raw[label]
		if !ok {
			return nil, nil
		}
		var i int
		if err := unmarshalStrict(v, &i); err != nil {
			return nil, errCborParse("claim169", "field must be an integer", err)
		}
		return &i, nil
	}

	var err error
	if c.ID, err = getStr(labelID); err != nil {
		return err
	}
	if c.Version, err = getStr(labelVersion); err != nil {
		return err
	}
	if c.Language, err = getStr(labelLanguage); err != nil {
		return err
	}
	if c.FullName, err = getStr(labelFullName); err != nil {
		return err
	}
	if c.FirstName, err = getStr(labelFirstName); err != nil {
		return err
	}
	if c.MiddleName, err = getStr(labelMiddleName); err != nil {
		return err
	}
	if c.LastName, err = getStr(labelLastName); err != nil {
		return err
	}
	if c.DateOfBirth, err = getStr(labelDateOfBirth); err != nil {
		return err
	}
	if c.Gender, err = getInt(labelGender); err != nil {
		return err
	}
	if c.Address, err = getStr(labelAddress); err != nil {
		return err
	}
	if c.Email, err = getStr(labelEmail); err != nil {
		return err
	}
	if c.Phone, err = getStr(labelPhone); err != nil {
		return err
	}
	if c.Nationality, err = getStr(labelNationality); err != nil {
		return err
	}
	if c.MaritalStatus, err = getInt(labelMaritalStatus); err != nil {
		return err
	}
	if c.Guardian, err = getStr(labelGuardian); err != nil {
		return err
	}
	if v, ok := raw[labelPhoto]; ok {
		if err := unmarshalStrict(v, &c.Photo); err != nil {
			return errCborParse("claim169", "photo field must be a byte string", err)
		}
	}
	if c.PhotoFormat, err = getInt(labelPhotoFormat); err != nil {
		return err
	}
	if v, ok := raw[labelBestQualityFingers]; ok {
		if err := unmarshalStrict(v, &c.BestQualityFingers); err != nil {
			return errCborParse("claim169", "bestQualityFingers must be an array of integers", err)
		}
	}
	if c.SecondaryFullName, err = getStr(labelSecondaryFullName); err != nil {
		return err
	}
	if c.SecondaryLanguage, err = getStr(labelSecondaryLanguage); err != nil {
		return err
	}
	if c.LocationCode, err = getStr(labelLocationCode); err != nil {
		return err
	}
	if c.LegalStatus, err = getStr(labelLegalStatus); err != nil {
		return err
	}
	if c.CountryOfIssuance, err = getStr(labelCountryOfIssuance); err != nil {
		return err
	}

	consumed := map[int]bool{
		labelID: true, labelVersion: true, labelLanguage: true, labelFullName: true,
		labelFirstName: true, labelMiddleName: true, labelLastName: true, labelDateOfBirth: true,
		labelGender: true, labelAddress: true, labelEmail: true, labelPhone: true,
		labelNationality: true, labelMaritalStatus: true, labelGuardian: true, labelPhoto: true,
		labelPhotoFormat: true, labelBestQualityFingers: true, labelSecondaryFullName: true,
		labelSecondaryLanguage: true, labelLocationCode: true, labelLegalStatus: true,
		labelCountryOfIssuance: true,
	}

	for _, f := range biometricFieldLabels {
		consumed[f.label] = true
		v, ok := raw[f.label]
		if !ok {
			continue
		}
		var rawEntries []map[int]cbor.RawMessage
		if err := unmarshalStrict(v, &rawEntries); err != nil {
			return errCborParse("claim169", "biometric slot must be an array of maps", err)
		}
		entries := make([]Biometric, len(rawEntries))
		for i, re := range rawEntries {
			b, err := biometricFromRaw(re)
			if err != nil {
				return err
			}
			entries[i] = b
		}
		f.set(c, entries)
	}

	unknown := map[int]cbor.RawMessage{}
	for label, v := range raw {
		if consumed[label] {
			continue
		}
		unknown[label] = v
	}
	if len(unknown) > 0 {
		c.UnknownFields = unknown
	}

	return nil
}

// CwtMeta carries the five CWT claims the core understands, independent of
// Claim169. All fields are optional.
type CwtMeta struct {
	Issuer     *string
	Subject    *string
	ExpiresAt  *int64
	NotBefore  *int64
	IssuedAt   *int64
}

// cwtPayload is the wire-level CWT claim set: CwtMeta's five claims plus
// Claim169 nested under label 169, all in one canonically ordered map.
type cwtPayload struct {
	Issuer    *string    `cbor:"1,keyasint,omitempty"`
	Subject   *string    `cbor:"2,keyasint,omitempty"`
	ExpiresAt *int64     `cbor:"4,keyasint,omitempty"`
	NotBefore *int64     `cbor:"5,keyasint,omitempty"`
	IssuedAt  *int64     `cbor:"6,keyasint,omitempty"`
	Claim169  *Claim169  `cbor:"169,keyasint,omitempty"`
}

func buildCwtPayload(claim *Claim169, meta CwtMeta) cwtPayload {
	return cwtPayload{
		Issuer:    meta.Issuer,
		Subject:   meta.Subject,
		ExpiresAt: meta.ExpiresAt,
		NotBefore: meta.NotBefore,
		IssuedAt:  meta.IssuedAt,
		Claim169:  claim,
	}
}

// X509Headers collects the X.509-related COSE header labels (32-35),
// extracted best-effort. A failure to parse any one of them never blocks
// decode: the field is simply left empty (spec.md §7).
type X509Headers struct {
	X5Bag   [][]byte // label 32: unordered list of DER certificates
	X5Chain [][]byte // label 33: ordered certificate chain
	X5TAlg  *int     // label 34: hash algorithm identifier
	X5THash []byte   // label 34: certificate thumbprint
	X5U     *string  // label 35: URI
}

// VerificationStatus is the outcome of decode-time signature verification.
type VerificationStatus int

const (
	VerificationUnknown VerificationStatus = iota
	VerificationVerified
	VerificationFailed
	VerificationSkipped
)

func (v VerificationStatus) String() string {
	switch v {
	case VerificationVerified:
		return "verified"
	case VerificationFailed:
		return "failed"
	case VerificationSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// WarningCode enumerates the non-fatal conditions decode can report.
type WarningCode string

const (
	WarningExpiringSoon               WarningCode = "expiring_soon"
	WarningUnknownFields              WarningCode = "unknown_fields"
	WarningTimestampValidationSkipped WarningCode = "timestamp_validation_skipped"
	WarningBiometricsSkipped          WarningCode = "biometrics_skipped"
	WarningNonStandardCompression     WarningCode = "non_standard_compression"
	WarningUnknownGenderValue         WarningCode = "unknown_gender_value"
)

// Warning is a non-fatal condition surfaced alongside a successful decode.
type Warning struct {
	Code    WarningCode
	Message string
}

// EncodeResult is the host-facing output of Encoder.Execute: the QR-ready
// Base45 text plus the compression container actually selected, which
// matters when CompressionAdaptiveBrotli picked between zlib and Brotli
// (spec.md §4.6 step 6).
type EncodeResult struct {
	QRText          string
	CompressionUsed Compression
}

// DecodeResult is the host-facing output of Decoder.Execute.
type DecodeResult struct {
	Claim169            Claim169
	CwtMeta             CwtMeta
	VerificationStatus  VerificationStatus
	X509Headers         X509Headers
	DetectedCompression Compression
	Warnings            []Warning

	// ProtectedHeaders/UnprotectedHeaders expose the raw COSE header maps
	// for labels this package doesn't otherwise surface, mirroring the
	// teacher's best-effort raw unprotected-header access.
	ProtectedHeaders   map[int]cbor.RawMessage
	UnprotectedHeaders map[int]cbor.RawMessage

	KeyID     []byte
	Algorithm int
}

// Scoped wraps a DecodeResult so that a single Release call zeroizes every
// byte field it owns (photo, biometric samples, bestQualityFingers),
// implementing the "scoped result variant" named in spec.md §3 Ownership.
type Scoped struct {
	Result DecodeResult
}

// Release zeroizes all byte-bearing fields of the wrapped result. After
// Release the Result must not be used.
func (s *Scoped) Release() {
	zeroize(s.Result.Claim169.Photo)
	for i := range s.Result.Claim169.BestQualityFingers {
		s.Result.Claim169.BestQualityFingers[i] = 0
	}
	for _, f := range biometricFieldLabels {
		for _, b := range f.get(&s.Result.Claim169) {
			zeroize(b.Data)
		}
	}
}

// InspectResult is the output of Inspect: metadata extracted without
// verifying the signature, for multi-issuer key lookup (spec.md §4.8).
type InspectResult struct {
	Issuer      *string
	Subject     *string
	ExpiresAt   *int64
	KeyID       []byte
	Algorithm   int
	X509Headers X509Headers
	IsEncrypted bool
}
