package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/bigkaa/medarchive/internal/domain/model"
	"github.com/bigkaa/medarchive/internal/repository"
	"github.com/bigkaa/medarchive/internal/repository/memrepo"
)

func TestValidID(t *testing.T) {
	id := uuid.New().String()

	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"канонический", id, true},
		{"верхний регистр", strings.ToUpper(id), true},
		{"urn", "urn:uuid:" + id, false},
		{"фигурные скобки", "{" + id + "}", false},
		{"без дефисов", strings.ReplaceAll(id, "-", ""), false},
		{"пустой", "", false},
		{"не uuid", "not-a-uuid", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validID(tt.id); got != tt.want {
				t.Errorf("validID(%q) = %v, ожидалось %v", tt.id, got, tt.want)
			}
		})
	}
}

// castingStore отвергает неканонические id так же, как приведение к uuid в PostgreSQL.
type castingStore struct {
	*memrepo.Store
}

func (s castingStore) Documents() repository.DocumentRepository {
	return castingDocuments{s.Store.Documents()}
}

type castingDocuments struct {
	repository.DocumentRepository
}

func (d castingDocuments) GetByID(ctx context.Context, id string) (*model.Document, error) {
	if len(id) != 36 {
		return nil, fmt.Errorf("ERROR: invalid input syntax for type uuid: %q (SQLSTATE 22P02)", id)
	}
	return d.DocumentRepository.GetByID(ctx, id)
}

// TestContentStore_NonCanonicalID — неканонический id документа — NotFound, а не ошибка хранилища.
func TestContentStore_NonCanonicalID(t *testing.T) {
	env := newTestEnv(t)
	rec := env.newRecord(t)
	doc := env.mustStore(t, rec.ID, "page")

	cs := NewContentStore(env.cfg, castingStore{env.mem}, env.files, env.journal,
		NewDocumentCache(10, 0), nil, env.logger)

	for _, id := range []string{"urn:uuid:" + doc.ID, "{" + doc.ID + "}", strings.ReplaceAll(doc.ID, "-", "")} {
		if _, err := cs.Retrieve(context.Background(), id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Retrieve(%q): ожидалась ErrNotFound, получено %v", id, err)
		}
		if _, err := cs.Delete(context.Background(), id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Delete(%q): ожидалась ErrNotFound, получено %v", id, err)
		}
	}

	blob, err := cs.Retrieve(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("Retrieve канонического id: %v", err)
	}
	_ = blob.Content.Close()
}
