// Пакет wal — журнал операций с файлами архива.
// Перемещение файла в каталог карты и вставка метаданных в PostgreSQL
// не атомарны между собой: журнал фиксирует намерение до перемещения,
// чтобы после сбоя найти файлы без метаданных.
// Каждая транзакция — отдельный файл {tx_id}.wal.json в MA_WAL_DIR.
package wal

import (
	"time"
)

// OperationType — тип журналируемой операции.
type OperationType string

const (
	// OpDocumentCreate — перемещение загруженного файла в каталог карты
	OpDocumentCreate OperationType = "document_create"
	// OpDocumentDelete — удаление файла документа после удаления метаданных
	OpDocumentDelete OperationType = "document_delete"
)

// TransactionStatus — статус транзакции.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusCommitted  TransactionStatus = "committed"
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись журнала.
type Entry struct {
	TransactionID string            `json:"transaction_id"`
	Operation     OperationType     `json:"operation"`
	Status        TransactionStatus `json:"status"`

	DocumentID string `json:"document_id"`
	RecordID   string `json:"record_id"`

	// StoragePath — путь файла относительно MA_DATA_DIR
	StoragePath string `json:"storage_path"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Target — объект операции.
type Target struct {
	DocumentID  string
	RecordID    string
	StoragePath string
}

const fileSuffix = ".wal.json"

func walFileName(txID string) string {
	return txID + fileSuffix
}
