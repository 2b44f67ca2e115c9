// Package storage provides vector storage implementations for the document index.
package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3" // Import sqlite3 driver
	"go.uber.org/zap"

	"hydrocare-rag/internal/models"
)

func init() {
	sqlite_vec.Auto()
}

// SQLiteVectorStore implements a SQLite-based vector storage system using sqlite-vec
type SQLiteVectorStore struct {
	db         *sql.DB
	logger     *zap.Logger
	mu         sync.Mutex
	dimensions int // 0 until the first chunk is stored
}

// NewSQLiteVectorStore creates a new SQLite-based vector store with sqlite-vec support
func NewSQLiteVectorStore(dsn string, logger *zap.Logger) (*SQLiteVectorStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteVectorStore{db: db, logger: logger}

	if err := store.initDB(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// initDB creates the metadata tables. The vec_chunks virtual table is created
// on first insert, once the embedding dimension is known.
func (s *SQLiteVectorStore) initDB() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		page INTEGER NOT NULL DEFAULT 0,
		content TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS index_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	var dims string
	err := s.db.QueryRow(`SELECT value FROM index_meta WHERE key = 'dimensions'`).Scan(&dims)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("failed to read index metadata: %w", err)
	}

	n, err := strconv.Atoi(dims)
	if err != nil {
		return fmt.Errorf("corrupt dimensions value %q: %w", dims, err)
	}
	s.dimensions = n
	return nil
}

// Close closes the database connection
func (s *SQLiteVectorStore) Close() error {
	return s.db.Close()
}

// deserializeFloat32Vector is the inverse of sqlite_vec.SerializeFloat32.
func deserializeFloat32Vector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4 : (i+1)*4]))
	}
	return vec
}

// ensureVecTable creates vec_chunks for the given dimension, or checks that
// the existing table matches it.
func (s *SQLiteVectorStore) ensureVecTable(ctx context.Context, dims int) error {
	if dims == 0 {
		return fmt.Errorf("chunk has no embedding")
	}
	if s.dimensions != 0 {
		if s.dimensions != dims {
			return fmt.Errorf("cannot store %d-dimensional embedding in a %d-dimensional index", dims, s.dimensions)
		}
		return nil
	}

	vecQuery := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
			id TEXT PRIMARY KEY,
			embedding FLOAT[%d] distance_metric=cosine
		)
	`, dims)
	if _, err := s.db.ExecContext(ctx, vecQuery); err != nil {
		return fmt.Errorf("failed to create vec_chunks table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO index_meta (key, value) VALUES ('dimensions', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, strconv.Itoa(dims)); err != nil {
		return fmt.Errorf("failed to record dimensions: %w", err)
	}

	s.dimensions = dims
	return nil
}

// Upsert inserts or updates chunks with their embeddings in one transaction
func (s *SQLiteVectorStore) Upsert(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureVecTable(ctx, len(chunks[0].Embedding)); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	metadataQuery := `
		INSERT INTO chunks (id, source, page, content)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			page = excluded.page,
			content = excluded.content
	`

	for _, c := range chunks {
		if len(c.Embedding) != s.dimensions {
			return fmt.Errorf("chunk %s: embedding has %d dimensions, index has %d", c.ID, len(c.Embedding), s.dimensions)
		}

		if _, err := tx.ExecContext(ctx, metadataQuery, c.ID, c.Source, c.Page, c.Content); err != nil {
			return fmt.Errorf("failed to upsert chunk metadata: %w", err)
		}

		// vec0 doesn't support UPDATE
		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_chunks WHERE id = ?`, c.ID); err != nil {
			return fmt.Errorf("failed to delete old vector: %w", err)
		}

		embeddingBytes, err := sqlite_vec.SerializeFloat32(c.Embedding)
		if err != nil {
			return fmt.Errorf("failed to serialize embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO vec_chunks (id, embedding) VALUES (?, ?)`, c.ID, embeddingBytes); err != nil {
			return fmt.Errorf("failed to insert chunk vector: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Search performs KNN vector search using sqlite-vec
func (s *SQLiteVectorStore) Search(ctx context.Context, embedding []float32, topK int) ([]models.ScoredChunk, error) {
	if s.dimensions == 0 || topK <= 0 {
		return []models.ScoredChunk{}, nil
	}
	if len(embedding) != s.dimensions {
		return nil, fmt.Errorf("query embedding has %d dimensions, index has %d", len(embedding), s.dimensions)
	}

	embeddingBytes, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query embedding: %w", err)
	}

	// sqlite-vec requires the k parameter to be passed as part of the MATCH expression
	query := `
		SELECT
			c.id,
			c.source,
			c.page,
			c.content,
			v.embedding,
			v.distance
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`

	rows, err := s.db.QueryContext(ctx, query, embeddingBytes, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to perform vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []models.ScoredChunk
	for rows.Next() {
		var (
			c        models.Chunk
			raw      []byte
			distance float64
		)
		if err := rows.Scan(&c.ID, &c.Source, &c.Page, &c.Content, &raw, &distance); err != nil {
			s.logger.Warn("skipping unreadable row", zap.Error(err))
			continue
		}
		c.Embedding = deserializeFloat32Vector(raw)

		results = append(results, models.ScoredChunk{
			Chunk:      c,
			Similarity: float32(1 - distance),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return results, nil
}

// Count returns the number of stored chunks
func (s *SQLiteVectorStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}
