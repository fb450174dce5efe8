// Пакет model — доменные модели архива медицинских карт.
// Document — оцифрованный документ, MedicalRecord — карта пациента,
// AuditEntry — запись журнала аудита.
package model

import (
	"time"
)

// DocumentCategory — категория документа.
type DocumentCategory string

const (
	CategoryRecordPage   DocumentCategory = "record_page"
	CategoryExam         DocumentCategory = "exam"
	CategoryPrescription DocumentCategory = "prescription"
	CategoryReport       DocumentCategory = "report"
	CategoryConsentForm  DocumentCategory = "consent_form"
	// CategoryOther — категория по умолчанию
	CategoryOther DocumentCategory = "other"
)

// categories — допустимые категории.
var categories = map[DocumentCategory]bool{
	CategoryRecordPage:   true,
	CategoryExam:         true,
	CategoryPrescription: true,
	CategoryReport:       true,
	CategoryConsentForm:  true,
	CategoryOther:        true,
}

// ParseCategory разбирает категорию. Пустая строка — CategoryOther.
func ParseCategory(s string) (DocumentCategory, bool) {
	if s == "" {
		return CategoryOther, true
	}
	c := DocumentCategory(s)
	return c, categories[c]
}

// Document — метаданные оцифрованного документа.
// Поле StoragePath не возвращается в API: это путь относительно MA_DATA_DIR.
type Document struct {
	ID               string `json:"id"`
	RecordID         string `json:"record_id"`
	OriginalFilename string `json:"original_filename"`

	// StoredFilename — имя файла на диске: {uuid}{ext}
	StoredFilename string `json:"stored_filename"`

	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`

	// StoragePath — {recordId}/{storedFilename}
	StoragePath string `json:"-"`

	// Digest — hex SHA-256 содержимого, уникален в системе
	Digest string `json:"digest"`

	Category           DocumentCategory `json:"category"`
	DocumentDate       *time.Time       `json:"document_date,omitempty"`
	Description        string           `json:"description,omitempty"`
	Responsible        string           `json:"responsible,omitempty"`
	OriginalIdentifier string           `json:"original_identifier,omitempty"`
	ResolutionDPI      *int             `json:"resolution_dpi,omitempty"`

	// OCRText заполняется асинхронно после загрузки
	OCRText      string `json:"ocr_text,omitempty"`
	OCRProcessed bool   `json:"ocr_processed"`

	UploadedBy string    `json:"uploaded_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DocumentFilter — фильтр списка документов.
type DocumentFilter struct {
	RecordID string
	Category DocumentCategory
}
