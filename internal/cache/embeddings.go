// Copyright 2025 Tom Barlow
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

package cache

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// FeatureBundle is the small set of derived lexical features stored next
// to each vector, used by the lexical fallback without re-tokenizing the
// whole corpus.
type FeatureBundle struct {
	// Tokens are the normalized tokens of the tool name and description.
	Tokens []string `json:"tokens"`

	// NameTokens are the normalized tokens of the raw tool name only.
	NameTokens []string `json:"nameTokens"`
}

// Embedding is one cached tool vector plus its provenance.
type Embedding struct {
	FQTN     string
	Provider string
	Vector   []float32
	Features FeatureBundle

	// ToolHash ties the vector to the tool metadata it was computed
	// from. A mismatch means the tool changed and the vector is stale.
	ToolHash string

	// Model names the embedding model. Vectors from different models
	// are never compared.
	Model string
}

// EmbeddingStore persists embeddings in embeddings.db (SQLite). One
// writer at a time; WAL mode keeps concurrent readers cheap.
type EmbeddingStore struct {
	db *sql.DB
}

// OpenEmbeddingStore opens (and if needed creates) embeddings.db under dir.
func OpenEmbeddingStore(dir string) (*EmbeddingStore, error) {
	path := filepath.Join(dir, "embeddings.db")
	connStr := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open embeddings database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to embeddings database: %w", err)
	}

	store := &EmbeddingStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate embeddings database: %w", err)
	}
	return store, nil
}

func (s *EmbeddingStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS embeddings (
			fqtn      TEXT PRIMARY KEY,
			provider  TEXT NOT NULL,
			vector    BLOB NOT NULL,
			features  TEXT NOT NULL,
			tool_hash TEXT NOT NULL,
			model     TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_embeddings_provider ON embeddings(provider);
	`)
	return err
}

// Close closes the database.
func (s *EmbeddingStore) Close() error {
	return s.db.Close()
}

// Put upserts one embedding.
func (s *EmbeddingStore) Put(ctx context.Context, e *Embedding) error {
	features, err := json.Marshal(e.Features)
	if err != nil {
		return fmt.Errorf("failed to encode features for %s: %w", e.FQTN, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO embeddings (fqtn, provider, vector, features, tool_hash, model)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fqtn) DO UPDATE SET
			provider = excluded.provider,
			vector = excluded.vector,
			features = excluded.features,
			tool_hash = excluded.tool_hash,
			model = excluded.model
	`, e.FQTN, e.Provider, encodeVector(e.Vector), string(features), e.ToolHash, e.Model)
	if err != nil {
		return fmt.Errorf("failed to store embedding for %s: %w", e.FQTN, err)
	}
	return nil
}

// Get returns one embedding, or nil when absent.
func (s *EmbeddingStore) Get(ctx context.Context, fqtn string) (*Embedding, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT fqtn, provider, vector, features, tool_hash, model
		FROM embeddings WHERE fqtn = ?
	`, fqtn)

	e, err := scanEmbedding(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// ForProviders returns all embeddings belonging to the given providers.
// An empty provider list returns nothing.
func (s *EmbeddingStore) ForProviders(ctx context.Context, providers []string) ([]*Embedding, error) {
	if len(providers) == 0 {
		return nil, nil
	}

	query := `SELECT fqtn, provider, vector, features, tool_hash, model FROM embeddings WHERE provider IN (?`
	args := []any{providers[0]}
	for _, p := range providers[1:] {
		query += ",?"
		args = append(args, p)
	}
	query += ") ORDER BY fqtn"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var result []*Embedding
	for rows.Next() {
		e, err := scanEmbedding(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// RemoveProvider deletes all embeddings for a provider.
func (s *EmbeddingStore) RemoveProvider(ctx context.Context, provider string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE provider = ?`, provider)
	if err != nil {
		return fmt.Errorf("failed to remove embeddings for %s: %w", provider, err)
	}
	return nil
}

// Count returns the number of stored embeddings.
func (s *EmbeddingStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmbedding(row rowScanner) (*Embedding, error) {
	var (
		e        Embedding
		blob     []byte
		features string
	)
	if err := row.Scan(&e.FQTN, &e.Provider, &blob, &features, &e.ToolHash, &e.Model); err != nil {
		return nil, err
	}
	e.Vector = decodeVector(blob)
	if err := json.Unmarshal([]byte(features), &e.Features); err != nil {
		return nil, fmt.Errorf("%w: features for %s: %v", ErrCorrupt, e.FQTN, err)
	}
	return &e, nil
}

// encodeVector packs float32s little-endian.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks a little-endian float32 blob. Trailing partial
// words are dropped.
func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
