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

// Version and Revision are set at build time via -ldflags
// "-X github.com/jeremi/claim169.Version=... -X github.com/jeremi/claim169.Revision=...".
var (
	Version  = "0.0.0-dev"
	Revision = "unknown"
)

// BuildInfo returns the version string reported by host applications in
// logs and diagnostics.
func BuildInfo() string {
	return Version + "+" + Revision
}
