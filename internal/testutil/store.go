// Package testutil holds helpers shared by package tests.
package testutil

import (
	"testing"

	"github.com/xiaot623/opsagent/internal/repository"
)

// NewTestSQLiteStore opens an in-memory store that is closed with the test.
func NewTestSQLiteStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()

	s, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}
