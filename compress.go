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
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// Compression identifies the container format of the compressed frame
// between Base45-decode and the CBOR item, per spec.md §6.
type Compression int

const (
	CompressionZlib Compression = iota
	CompressionNone
	CompressionBrotli
	CompressionAdaptiveBrotli
)

func (c Compression) String() string {
	switch c {
	case CompressionZlib:
		return "zlib"
	case CompressionNone:
		return "none"
	case CompressionBrotli:
		return "brotli"
	case CompressionAdaptiveBrotli:
		return "adaptive-brotli"
	default:
		return "unknown"
	}
}

// DefaultMaxDecompressedBytes is the cap applied when
// Decoder.WithMaxDecompressedBytes does not override it.
const DefaultMaxDecompressedBytes = 65536

const stageDecompress = "decompress"

// compressionMode is the fully resolved, internal encode-time choice: which
// container to write and, for Brotli, at what quality level.
type compressionMode struct {
	kind        Compression
	brotliLevel int
}

func defaultCompressionMode() compressionMode {
	return compressionMode{kind: CompressionZlib}
}

// compress produces the compression frame for the configured mode. For
// CompressionAdaptiveBrotli it tries both zlib and Brotli and keeps
// whichever yields the shorter Base45 output, preferring zlib on a tie
// (spec.md §9, Open Questions).
func compress(data []byte, mode compressionMode) ([]byte, Compression, error) {
	switch mode.kind {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionZlib:
		out, err := compressZlib(data)
		return out, CompressionZlib, err
	case CompressionBrotli:
		out, err := compressBrotli(data, mode.brotliLevel)
		return out, CompressionBrotli, err
	case CompressionAdaptiveBrotli:
		zlibOut, err := compressZlib(data)
		if err != nil {
			return nil, CompressionZlib, err
		}
		brotliOut, err := compressBrotli(data, mode.brotliLevel)
		if err != nil {
			return nil, CompressionZlib, err
		}
		if len(brotliOut) < len(zlibOut) {
			return brotliOut, CompressionBrotli, nil
		}
		return zlibOut, CompressionZlib, nil
	default:
		return nil, CompressionNone, fmt.Errorf("unknown compression mode %v", mode.kind)
	}
}

func compressZlib(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// brotliMarker prefixes every Brotli frame this package writes. Raw Brotli
// streams carry no self-describing magic number, so detectCompression needs
// one to tell a Brotli frame apart from an uncompressed payload.
var brotliMarker = []byte{0xCE, 0xB2, 0xCF, 0x81}

func compressBrotli(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(brotliMarker)
	w := brotli.NewWriterLevel(&buf, level)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// detectCompression looks at the magic bytes of the compression frame to
// decide which decompressor to invoke.
func detectCompression(data []byte) Compression {
	if len(data) >= 2 && data[0] == 0x78 && isValidZlibFlevel(data[0], data[1]) {
		return CompressionZlib
	}
	if looksLikeBrotli(data) {
		return CompressionBrotli
	}
	return CompressionNone
}

// isValidZlibFlevel checks the CMF/FLG header pair per RFC 1950: CM must be
// 8 (deflate) and (CMF*256+FLG) must be a multiple of 31.
func isValidZlibFlevel(cmf, flg byte) bool {
	if cmf&0x0F != 8 {
		return false
	}
	return (int(cmf)*256+int(flg))%31 == 0
}

// looksLikeBrotli reports whether data begins with brotliMarker, the prefix
// this package's own encoder writes before every Brotli stream. A Brotli
// stream without that prefix is not recognized. detectCompression calls it
// only after the zlib check has failed.
func looksLikeBrotli(data []byte) bool {
	return len(data) >= len(brotliMarker) && bytes.Equal(data[:len(brotliMarker)], brotliMarker)
}

// decompress inverts compress, auto-detecting the frame format and
// enforcing maxBytes on the decompressed size. Exceeding the cap fails
// before more than maxBytes+1 bytes are ever held in memory.
func decompress(data []byte, maxBytes int) ([]byte, Compression, error) {
	detected := detectCompression(data)

	switch detected {
	case CompressionZlib:
		out, err := limitedInflate(data, maxBytes)
		return out, CompressionZlib, err
	case CompressionBrotli:
		out, err := limitedBrotli(data, maxBytes)
		return out, CompressionBrotli, err
	default:
		if len(data) > maxBytes {
			return nil, CompressionNone, errDecompressLimit(stageDecompress, maxBytes)
		}
		return data, CompressionNone, nil
	}
}

func limitedInflate(data []byte, maxBytes int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errDecompress(stageDecompress, err)
	}
	defer zr.Close()
	return readCapped(zr, maxBytes)
}

func limitedBrotli(data []byte, maxBytes int) ([]byte, error) {
	br := brotli.NewReader(bytes.NewReader(data[len(brotliMarker):]))
	return readCapped(br, maxBytes)
}

// readCapped reads at most maxBytes+1 bytes from r so it can distinguish
// "exactly maxBytes" (allowed) from "more than maxBytes" (rejected) without
// ever buffering past the limit.
func readCapped(r io.Reader, maxBytes int) ([]byte, error) {
	limited := io.LimitReader(r, int64(maxBytes)+1)
	buf, err := io.ReadAll(limited)
	if err != nil {
		return nil, errDecompress(stageDecompress, err)
	}
	if len(buf) > maxBytes {
		return nil, errDecompressLimit(stageDecompress, maxBytes)
	}
	return buf, nil
}
