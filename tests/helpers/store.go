package helpers

import (
	"testing"

	"github.com/gsitechorg/open-belex-debug/internal/domain"
	"github.com/gsitechorg/open-belex-debug/internal/repository"
)

func NewTestSQLiteStore(t *testing.T, options ...store.Option) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:", options...)
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// NewCompressedTestSQLiteStore returns an in-memory store compressing
// payloads with enc.
func NewCompressedTestSQLiteStore(t *testing.T, enc domain.PayloadEncoding) *store.SQLiteStore {
	t.Helper()
	return NewTestSQLiteStore(t, store.WithCompression(enc))
}
