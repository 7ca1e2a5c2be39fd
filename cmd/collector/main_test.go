package main

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/unklstewy/los-relay/internal/db"
)

func openUnconnected(t *testing.T) *db.DB {
	t.Helper()
	conn, err := sql.Open("postgres", "host=127.0.0.1 port=1 sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to open handle: %v", err)
	}
	return &db.DB{DB: conn}
}

func TestCollectorClose(t *testing.T) {
	t.Run("Without database", func(t *testing.T) {
		c := &Collector{}
		if err := c.Close(); err != nil {
			t.Errorf("Expected nil error, got %v", err)
		}
	})

	t.Run("Closes the reconnected handle", func(t *testing.T) {
		original := openUnconnected(t)
		defer original.Close()
		c := &Collector{db: original}

		// cleanup swaps c.db after EnsureConnection returns a new handle
		replacement := openUnconnected(t)
		c.db = replacement

		if err := c.Close(); err != nil {
			t.Fatalf("Expected nil error, got %v", err)
		}
		err := replacement.PingContext(context.Background())
		if err == nil || !strings.Contains(err.Error(), "database is closed") {
			t.Errorf("Expected replacement to be closed, got %v", err)
		}
		if c.db != nil {
			t.Error("Expected collector to drop its handle")
		}
		if err := c.Close(); err != nil {
			t.Errorf("Expected second Close to be a no-op, got %v", err)
		}
	})
}
