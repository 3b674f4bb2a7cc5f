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
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	log "github.com/sirupsen/logrus"
)

// benchLog is the diagnostics logger for this package's benchmarks. It is
// never reachable from encode.go/decode.go/inspect.go: the core pipeline
// does not log (spec.md §7), but the teacher's own diagnostic style is worth
// keeping for the harness that exercises it.
var benchLog = log.WithField("component", "claim169-bench")

func BenchmarkEncodeEd25519SignedRoundTrip(b *testing.B) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		b.Fatal(err)
	}
	claim := sampleClaim()

	benchLog.WithField("iterations", b.N).Debug("starting sign+encode benchmark")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := NewEncoder().SignWithEd25519Seed(priv.Seed()).Execute(claim); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecodeEd25519VerifiedRoundTrip(b *testing.B) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		b.Fatal(err)
	}
	encoded, err := NewEncoder().SignWithEd25519Seed(priv.Seed()).Execute(sampleClaim())
	if err != nil {
		b.Fatal(err)
	}

	benchLog.WithField("iterations", b.N).Debug("starting verify+decode benchmark")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := NewDecoder().VerifyWithEd25519Raw(pub).Execute(encoded.QRText); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAdaptiveCompression(b *testing.B) {
	claim := sampleClaim()
	payload, err := marshalCanonical(buildCwtPayload(claim, CwtMeta{}))
	if err != nil {
		b.Fatal(err)
	}
	mode := compressionMode{kind: CompressionAdaptiveBrotli, brotliLevel: 9}

	benchLog.WithField("payloadBytes", len(payload)).Debug("starting adaptive compression benchmark")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := compress(payload, mode); err != nil {
			b.Fatal(err)
		}
	}
}
