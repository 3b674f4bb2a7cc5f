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

// Package claim169 encodes and decodes MOSIP Claim 169 digital identity
// credentials: the Base45/compression/COSE/CBOR pipeline that turns a
// Claim169 value into QR-ready text and back.
//
// The package does not perform network I/O, logging, or key storage. A
// host application supplies key material (directly or via a Signer/
// Verifier/Encryptor/Decryptor implementation) and is responsible for
// issuer trust decisions; Inspect exists to let a host pick the right key
// before calling Decoder.Execute.
package claim169
