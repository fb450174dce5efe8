// Пакет memrepo — in-memory реализация repository.Store для тестов сервисов
// и HTTP-обработчиков. Воспроизводит ограничения схемы: уникальность digest
// и storage_path, внешние ключи с RESTRICT, каскадное удаление отметок
// резервного копирования и откат транзакции при ошибке.
package memrepo

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/medarchive/internal/domain/checklist"
	"github.com/bigkaa/medarchive/internal/domain/model"
	"github.com/bigkaa/medarchive/internal/repository"
)

// Store — in-memory хранилище. Транзакции сериализуются.
type Store struct {
	txMu sync.Mutex

	mu         sync.Mutex
	documents  map[string]model.Document
	records    map[string]model.MedicalRecord
	checklists map[string]checklist.Checklist
	backups    map[string]backupMark
	audit      []model.AuditEntry

	// FailAudit — ошибка, возвращаемая Audit().Insert (имитация недоступного журнала).
	FailAudit error
}

var _ repository.Store = (*Store)(nil)

// backupMark — строка document_backups.
type backupMark struct {
	objectKey string
	at        time.Time
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		documents:  make(map[string]model.Document),
		records:    make(map[string]model.MedicalRecord),
		checklists: make(map[string]checklist.Checklist),
		backups:    make(map[string]backupMark),
	}
}

func (s *Store) Documents() repository.DocumentRepository   { return documents{s} }
func (s *Store) Records() repository.RecordRepository       { return records{s} }
func (s *Store) Checklists() repository.ChecklistRepository { return checklists{s} }
func (s *Store) Audit() repository.AuditRepository          { return audit{s} }
func (s *Store) Backups() repository.BackupRepository       { return backups{s} }

// InTx выполняет fn; при ошибке состояние восстанавливается из снимка.
func (s *Store) InTx(ctx context.Context, fn func(repository.Repos) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// AuditEntries возвращает копию журнала аудита в порядке записи.
func (s *Store) AuditEntries() []model.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditEntry(nil), s.audit...)
}

// BackedUp возвращает ключ объекта и время отметки резервной копии документа.
func (s *Store) BackedUp(documentID string) (string, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.backups[documentID]
	return m.objectKey, m.at, ok
}

type snapshot struct {
	documents  map[string]model.Document
	records    map[string]model.MedicalRecord
	checklists map[string]checklist.Checklist
	backups    map[string]backupMark
	audit      int
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{
		documents:  make(map[string]model.Document, len(s.documents)),
		records:    make(map[string]model.MedicalRecord, len(s.records)),
		checklists: make(map[string]checklist.Checklist, len(s.checklists)),
		backups:    make(map[string]backupMark, len(s.backups)),
		audit:      len(s.audit),
	}
	for k, v := range s.documents {
		snap.documents[k] = v
	}
	for k, v := range s.records {
		snap.records[k] = v
	}
	for k, v := range s.checklists {
		snap.checklists[k] = cloneChecklist(v)
	}
	for k, v := range s.backups {
		snap.backups[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.documents = snap.documents
	s.records = snap.records
	s.checklists = snap.checklists
	s.backups = snap.backups
	s.audit = s.audit[:snap.audit]
}

func cloneChecklist(c checklist.Checklist) checklist.Checklist {
	items := make(checklist.Items, len(c.Items))
	for k, v := range c.Items {
		items[k] = v
	}
	c.Items = items
	return c
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// --- documents ---

type documents struct{ s *Store }

func (r documents) Create(_ context.Context, d *model.Document) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.records[d.RecordID]; !ok {
		return repository.ErrForeignKey
	}
	for _, existing := range r.s.documents {
		if existing.Digest == d.Digest || existing.StoragePath == d.StoragePath || existing.ID == d.ID {
			return repository.ErrConflict
		}
	}
	d.CreatedAt = time.Now().UTC()
	r.s.documents[d.ID] = *d
	return nil
}

func (r documents) GetByID(_ context.Context, id string) (*model.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.documents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

func (r documents) GetByDigest(_ context.Context, digest string) (*model.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, d := range r.s.documents {
		if d.Digest == digest {
			d := d
			return &d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r documents) filtered(filter model.DocumentFilter) []*model.Document {
	var out []*model.Document
	for _, d := range r.s.documents {
		if filter.RecordID != "" && d.RecordID != filter.RecordID {
			continue
		}
		if filter.Category != "" && d.Category != filter.Category {
			continue
		}
		d := d
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r documents) List(_ context.Context, filter model.DocumentFilter, limit, offset int) ([]*model.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return page(r.filtered(filter), limit, offset), nil
}

func (r documents) Count(_ context.Context, filter model.DocumentFilter) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.filtered(filter)), nil
}

func (r documents) Delete(_ context.Context, id string) (*model.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.documents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	delete(r.s.documents, id)
	delete(r.s.backups, id)
	return &d, nil
}

func (r documents) DeleteByRecord(_ context.Context, recordID string) ([]*model.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*model.Document
	for id, d := range r.s.documents {
		if d.RecordID == recordID {
			d := d
			out = append(out, &d)
			delete(r.s.documents, id)
			delete(r.s.backups, id)
		}
	}
	return out, nil
}

func (r documents) ExistsByStoragePath(_ context.Context, storagePath string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, d := range r.s.documents {
		if d.StoragePath == storagePath {
			return true, nil
		}
	}
	return false, nil
}

func (r documents) StorageIndex(_ context.Context) (map[string]repository.IndexEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	idx := make(map[string]repository.IndexEntry, len(r.s.documents))
	for _, d := range r.s.documents {
		idx[d.StoragePath] = repository.IndexEntry{DocumentID: d.ID, Digest: d.Digest, Size: d.Size}
	}
	return idx, nil
}

func (r documents) SetOCRText(_ context.Context, id, text string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.documents[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.OCRText = text
	d.OCRProcessed = true
	r.s.documents[id] = d
	return nil
}

// --- records ---

type records struct{ s *Store }

func (r records) Create(_ context.Context, rec *model.MedicalRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.records[rec.ID]; ok {
		return repository.ErrConflict
	}
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	r.s.records[rec.ID] = *rec
	return nil
}

func (r records) GetByID(_ context.Context, id string) (*model.MedicalRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec, ok := r.s.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rec, nil
}

func (r records) GetForUpdate(ctx context.Context, id string) (*model.MedicalRecord, error) {
	return r.GetByID(ctx, id)
}

func (r records) filtered(filter model.RecordFilter) []*model.MedicalRecord {
	var out []*model.MedicalRecord
	for _, rec := range r.s.records {
		if filter.PatientID != "" && rec.PatientID != filter.PatientID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		rec := rec
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r records) List(_ context.Context, filter model.RecordFilter, limit, offset int) ([]*model.MedicalRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return page(r.filtered(filter), limit, offset), nil
}

func (r records) Count(_ context.Context, filter model.RecordFilter) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.filtered(filter)), nil
}

func (r records) Update(_ context.Context, rec *model.MedicalRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.records[rec.ID]
	if !ok {
		return repository.ErrNotFound
	}
	rec.CreatedAt = existing.CreatedAt
	rec.CreatedBy = existing.CreatedBy
	rec.UpdatedAt = time.Now().UTC()
	r.s.records[rec.ID] = *rec
	return nil
}

func (r records) TouchActivity(_ context.Context, id string, activity time.Time, expiry *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec, ok := r.s.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	rec.LastActivityDate = activity
	rec.RetentionExpiry = expiry
	rec.UpdatedAt = time.Now().UTC()
	r.s.records[id] = rec
	return nil
}

func (r records) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.records[id]; !ok {
		return repository.ErrNotFound
	}
	if _, ok := r.s.checklists[id]; ok {
		return repository.ErrForeignKey
	}
	for _, d := range r.s.documents {
		if d.RecordID == id {
			return repository.ErrForeignKey
		}
	}
	delete(r.s.records, id)
	return nil
}

// --- checklists ---

type checklists struct{ s *Store }

func (r checklists) Get(_ context.Context, recordID string) (*checklist.Checklist, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.checklists[recordID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c = cloneChecklist(c)
	return &c, nil
}

func (r checklists) GetForUpdate(ctx context.Context, recordID string) (*checklist.Checklist, error) {
	return r.Get(ctx, recordID)
}

func (r checklists) Save(_ context.Context, c *checklist.Checklist) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.records[c.RecordID]; !ok {
		return repository.ErrForeignKey
	}
	if existing, ok := r.s.checklists[c.RecordID]; ok {
		c.CreatedAt = existing.CreatedAt
	}
	r.s.checklists[c.RecordID] = cloneChecklist(*c)
	return nil
}

func (r checklists) Delete(_ context.Context, recordID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	delete(r.s.checklists, recordID)
	return nil
}

// --- backups ---

type backups struct{ s *Store }

func (r backups) MarkBackedUp(_ context.Context, documentID, objectKey string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.documents[documentID]; !ok {
		return repository.ErrNotFound
	}
	r.s.backups[documentID] = backupMark{objectKey: objectKey, at: at}
	return nil
}

// --- audit ---

type audit struct{ s *Store }

func (r audit) Insert(_ context.Context, e *model.AuditEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.FailAudit != nil {
		return r.s.FailAudit
	}
	e.CreatedAt = time.Now().UTC()
	entry := *e
	entry.Details = append(json.RawMessage(nil), e.Details...)
	r.s.audit = append(r.s.audit, entry)
	return nil
}

func (r audit) ListByEntity(_ context.Context, entityType model.EntityType, entityID string, limit int) ([]*model.AuditEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*model.AuditEntry
	for i := len(r.s.audit) - 1; i >= 0; i-- {
		e := r.s.audit[i]
		if e.EntityType == entityType && e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, &e)
		}
	}
	return page(out, limit, 0), nil
}
