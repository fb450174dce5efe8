package model

import "time"

// RecordStatus — статус медицинской карты.
type RecordStatus string

const (
	RecordActive        RecordStatus = "active"
	RecordArchived      RecordStatus = "archived"
	RecordPendingReview RecordStatus = "pending_review"
)

// Valid проверяет, что статус входит в перечисление.
func (s RecordStatus) Valid() bool {
	switch s {
	case RecordActive, RecordArchived, RecordPendingReview:
		return true
	}
	return false
}

// MedicalRecord — медицинская карта, объединяющая документы пациента.
type MedicalRecord struct {
	ID          string `json:"id"`
	PatientID   string `json:"patient_id"`
	Description string `json:"description,omitempty"`

	StartDate        time.Time `json:"start_date"`
	LastActivityDate time.Time `json:"last_activity_date"`

	// RetentionExpiry = LastActivityDate + срок хранения.
	// Пересчитывается при каждом изменении LastActivityDate.
	RetentionExpiry *time.Time `json:"retention_expiry,omitempty"`

	HistoricalValue bool         `json:"historical_value"`
	Status          RecordStatus `json:"status"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordFilter — фильтр списка карт.
type RecordFilter struct {
	PatientID string
	Status    RecordStatus
}
