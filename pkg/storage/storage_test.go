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
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/atelierhq/atelier/pkg/types"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := Open(context.Background(), Config{
		DatabaseURL: "sqlite://" + dbPath,
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	return store
}

func createTestTenant(t *testing.T, store *Store, id string) *types.Tenant {
	t.Helper()
	tenant := &types.Tenant{
		ID:                    id,
		Name:                  "Test Tenant",
		Plan:                  "pro",
		SubscriptionStatus:    "active",
		Tier:                  types.TierProfessional,
		MonthlyTokenLimit:     1_000_000,
		MaxUsers:              10,
		MaxAgents:             20,
		MaxWorkflows:          50,
		MaxExecutionsPerMonth: 1000,
	}
	require.NoError(t, store.CreateTenant(context.Background(), tenant))
	return tenant
}

func TestOpen_SchemaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	config := Config{
		DatabaseURL: "sqlite://" + dbPath,
		Logger:      zaptest.NewLogger(t),
	}

	store, err := Open(ctx, config)
	require.NoError(t, err)

	tenant := &types.Tenant{Name: "Acme", Plan: "starter", Tier: types.TierFree}
	require.NoError(t, store.CreateTenant(ctx, tenant))
	require.NoError(t, store.Close())

	// Reopening the same file must rerun the DDL without touching data.
	store, err = Open(ctx, config)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	retrieved, err := store.Tenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", retrieved.Name)
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	_, err := Open(context.Background(), Config{DatabaseURL: "mongodb://localhost/atelier"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported DATABASE_URL scheme")
}

func TestParseDatabaseURL(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		wantDriver string
		wantDSN    string
		wantErr    string
	}{
		{
			name:       "sqlite relative path",
			url:        "sqlite://atelier.db",
			wantDriver: "sqlite3",
			wantDSN:    "atelier.db",
		},
		{
			name:       "sqlite absolute path",
			url:        "sqlite:///var/lib/atelier/atelier.db",
			wantDriver: "sqlite3",
			wantDSN:    "/var/lib/atelier/atelier.db",
		},
		{
			name:       "sqlite3 scheme",
			url:        "sqlite3://data.db",
			wantDriver: "sqlite3",
			wantDSN:    "data.db",
		},
		{
			name:    "sqlite empty path",
			url:     "sqlite://",
			wantErr: "sqlite path is empty",
		},
		{
			name:       "postgres passes through",
			url:        "postgres://user:pass@db:5432/atelier?sslmode=disable",
			wantDriver: "postgres",
			wantDSN:    "postgres://user:pass@db:5432/atelier?sslmode=disable",
		},
		{
			name:       "mysql converts to driver dsn",
			url:        "mysql://user:pass@db:3306/atelier?parseTime=true",
			wantDriver: "mysql",
			wantDSN:    "user:pass@tcp(db:3306)/atelier?parseTime=true",
		},
		{
			name:       "mysql without credentials",
			url:        "mysql://db:3306/atelier",
			wantDriver: "mysql",
			wantDSN:    "tcp(db:3306)/atelier",
		},
		{
			name:    "mysql missing database",
			url:     "mysql://db:3306/",
			wantErr: "mysql database name is empty",
		},
		{
			name:    "unknown scheme",
			url:     "oracle://db/atelier",
			wantErr: "unsupported DATABASE_URL scheme",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, dsn, _, err := parseDatabaseURL(tt.url)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDriver, driver)
			assert.Equal(t, tt.wantDSN, dsn)
		})
	}
}

func TestRebind(t *testing.T) {
	query := `UPDATE tenants SET name = ?, plan = ? WHERE id = ?`

	assert.Equal(t, query, dialectSQLite.rebind(query))
	assert.Equal(t, query, dialectMySQL.rebind(query))
	assert.Equal(t,
		`UPDATE tenants SET name = $1, plan = $2 WHERE id = $3`,
		dialectPostgres.rebind(query),
	)
}

func TestJSONColumn(t *testing.T) {
	col, err := jsonColumn(nil)
	require.NoError(t, err)
	assert.False(t, col.Valid)

	col, err = jsonColumn(map[string]interface{}{})
	require.NoError(t, err)
	assert.False(t, col.Valid)

	col, err = jsonColumn([]string{})
	require.NoError(t, err)
	assert.False(t, col.Valid)

	col, err = jsonColumn(map[string]string{"openai": "sk-123"})
	require.NoError(t, err)
	require.True(t, col.Valid)
	assert.JSONEq(t, `{"openai":"sk-123"}`, col.String)
}

func TestTimeColumns(t *testing.T) {
	assert.Equal(t, int64(0), unixOrZero(time.Time{}))
	assert.True(t, timeAt(0).IsZero())
	assert.Nil(t, timePtrAt(0))

	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, at.Unix(), unixOrZero(at))
	assert.Equal(t, at, timeAt(at.Unix()))
	require.NotNil(t, timePtrAt(at.Unix()))
	assert.Equal(t, at, *timePtrAt(at.Unix()))
	assert.Equal(t, at.Unix(), unixOrZeroPtr(&at))
	assert.Equal(t, int64(0), unixOrZeroPtr(nil))
}
