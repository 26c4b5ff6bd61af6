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
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobCodec_SmallStaysRaw(t *testing.T) {
	codec, err := newBlobCodec()
	require.NoError(t, err)

	raw := []byte(`{"1":{"status":"completed"}}`)
	data, compressed := codec.encode(raw)
	assert.False(t, compressed)
	assert.Equal(t, raw, data)

	decoded, err := codec.decode(data, compressed)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestBlobCodec_LargeCompressesAndRoundTrips(t *testing.T) {
	codec, err := newBlobCodec()
	require.NoError(t, err)

	raw := bytes.Repeat([]byte(`{"order":"1","status":"completed","output":"ok"}`), 200)
	require.Greater(t, len(raw), blobCompressionThreshold)

	data, compressed := codec.encode(raw)
	assert.True(t, compressed)
	assert.Less(t, len(data), len(raw))

	decoded, err := codec.decode(data, compressed)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestBlobCodec_IncompressibleStaysRaw(t *testing.T) {
	codec, err := newBlobCodec()
	require.NoError(t, err)

	// Random bytes do not shrink, so the raw form wins even above the
	// threshold.
	raw := make([]byte, 8*1024)
	_, err = rand.Read(raw)
	require.NoError(t, err)

	data, compressed := codec.encode(raw)
	assert.False(t, compressed)
	assert.Equal(t, raw, data)
}
