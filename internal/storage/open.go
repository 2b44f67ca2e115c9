package storage

import (
	"fmt"

	"go.uber.org/zap"

	"hydrocare-rag/internal/config"
)

// Open returns the vector store selected by database.driver.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (VectorStore, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLiteVectorStore(cfg.Path, logger)
	case "chromem":
		return NewChromemStore(cfg.ChromaDir, cfg.Collection)
	case "memory":
		return NewMemoryVectorStore(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
