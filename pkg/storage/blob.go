// Copyright 2026 Atelier
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package storage

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// blobCompressionThreshold is the minimum payload size in bytes before
// task result blobs are compressed.
const blobCompressionThreshold = 4 * 1024

// blobCodec compresses large task result payloads. The encoder and
// decoder are reusable and safe for concurrent use.
type blobCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newBlobCodec() (*blobCodec, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &blobCodec{encoder: encoder, decoder: decoder}, nil
}

// encode compresses raw when it crosses the threshold and the result
// is actually smaller.
func (c *blobCodec) encode(raw []byte) (data []byte, compressed bool) {
	if len(raw) < blobCompressionThreshold {
		return raw, false
	}
	packed := c.encoder.EncodeAll(raw, nil)
	if len(packed) >= len(raw) {
		return raw, false
	}
	return packed, true
}

// decode reverses encode.
func (c *blobCodec) decode(data []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return data, nil
	}
	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress blob: %w", err)
	}
	return raw, nil
}
