package db

import (
	"context"
	"errors"
	"testing"

	"bonsaipay/internal/config"
	"bonsaipay/internal/domain"
)

func TestNewStoreNoDBMode(t *testing.T) {
	store, err := NewStore(config.Config{}, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if store.Enabled() {
		t.Fatal("expected no-db mode without POSTGRES_DSN")
	}
	if err := store.Migrate(context.Background()); !errors.Is(err, errDBUnavailable) {
		t.Fatalf("expected errDBUnavailable, got %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRepositoriesWithoutDB(t *testing.T) {
	accounts := NewAccountRepository(nil)
	if _, _, err := accounts.Get(context.Background(), "x"); !errors.Is(err, errDBUnavailable) {
		t.Fatalf("expected errDBUnavailable, got %v", err)
	}
	if err := accounts.Put(context.Background(), domain.AccountRecord{}); !errors.Is(err, errDBUnavailable) {
		t.Fatalf("expected errDBUnavailable, got %v", err)
	}
	subs := NewSubmissionRepository(nil)
	if err := subs.Append(context.Background(), domain.SubmissionRecord{}); !errors.Is(err, errDBUnavailable) {
		t.Fatalf("expected errDBUnavailable, got %v", err)
	}
}
