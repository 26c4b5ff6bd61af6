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
package secrets

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	sealer, err := New("dev-secret-key-change-in-production-minimum-32-chars")
	require.NoError(t, err)

	sealed, err := sealer.Seal("sk-tenant-byok-key")
	require.NoError(t, err)
	assert.NotEqual(t, "sk-tenant-byok-key", sealed)

	opened, err := sealer.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-tenant-byok-key", opened)
}

func TestSealIsNonDeterministic(t *testing.T) {
	sealer, err := New("passphrase")
	require.NoError(t, err)

	first, err := sealer.Seal("same value")
	require.NoError(t, err)
	second, err := sealer.Seal("same value")
	require.NoError(t, err)

	// Fresh nonce per Seal: equal plaintexts never share ciphertext.
	assert.NotEqual(t, first, second)
}

func TestOpenAcrossInstances(t *testing.T) {
	first, err := New("shared passphrase")
	require.NoError(t, err)
	second, err := New("shared passphrase")
	require.NoError(t, err)

	sealed, err := first.Seal("carried over")
	require.NoError(t, err)

	opened, err := second.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "carried over", opened)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	sealer, err := New("right key")
	require.NoError(t, err)
	other, err := New("wrong key")
	require.NoError(t, err)

	sealed, err := sealer.Seal("secret")
	require.NoError(t, err)

	_, err = other.Open(sealed)
	assert.ErrorContains(t, err, "unseal")
}

func TestOpenRejectsTampering(t *testing.T) {
	sealer, err := New("passphrase")
	require.NoError(t, err)

	sealed, err := sealer.Seal("secret")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff

	_, err = sealer.Open(base64.StdEncoding.EncodeToString(raw))
	assert.ErrorContains(t, err, "unseal")
}

func TestOpenRejectsMalformedInput(t *testing.T) {
	sealer, err := New("passphrase")
	require.NoError(t, err)

	_, err = sealer.Open("not base64!!!")
	assert.ErrorContains(t, err, "decode sealed value")

	_, err = sealer.Open(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorContains(t, err, "too short")
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New("")
	assert.EqualError(t, err, "secrets: key is required")
}
