// Пакет service — бизнес-логика архива медицинских карт.
// errors.go — типизированные ошибки сервисного слоя.
//
// Каждый тип сопоставляется с sentinel через errors.Is:
// транспортный слой различает ошибки по sentinel, а подробности
// (id, digest, путь) берёт из конкретного типа через errors.As.
package service

import (
	"errors"
	"fmt"
)

// Sentinel-ошибки сервисного слоя.
var (
	// ErrValidation — некорректные входные данные, повтор без исправления бесполезен.
	ErrValidation = errors.New("ошибка валидации")
	// ErrDuplicate — содержимое уже сохранено в архиве.
	ErrDuplicate = errors.New("документ с таким содержимым уже существует")
	// ErrNotFound — сущность не найдена.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrMissingBlob — метаданные есть, файла на диске нет.
	ErrMissingBlob = errors.New("файл документа отсутствует в хранилище")
	// ErrIO — сбой хранилища, загрузку можно повторить целиком.
	ErrIO = errors.New("ошибка хранилища")
	// ErrFileTooLarge — размер файла превышает MA_MAX_FILE_SIZE.
	ErrFileTooLarge = errors.New("превышен максимальный размер файла")
	// ErrUnsupportedMediaType — MIME-тип не входит в MA_ALLOWED_MIME_TYPES.
	ErrUnsupportedMediaType = errors.New("недопустимый тип файла")
	// ErrReconcileInProgress — сверка уже выполняется.
	ErrReconcileInProgress = errors.New("сверка уже выполняется")
)

// ValidationError — ошибка входных данных.
type ValidationError struct {
	Field   string
	Message string
	// Kind уточняет причину: ErrFileTooLarge, ErrUnsupportedMediaType или nil.
	Kind error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is сопоставляет ErrValidation и уточняющий Kind.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation || (e.Kind != nil && target == e.Kind)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// DuplicateError — содержимое уже сохранено как документ ExistingID.
type DuplicateError struct {
	ExistingID       string
	ExistingRecordID string
	Digest           string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("документ с digest %s уже существует: %s", e.Digest, e.ExistingID)
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

// NotFoundError — сущность Entity с идентификатором ID не найдена.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s не найден(а)", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// MissingBlobError — файл документа отсутствует на диске.
// Признак нарушения целостности хранилища, требует сверки.
type MissingBlobError struct {
	DocumentID  string
	StoragePath string
}

func (e *MissingBlobError) Error() string {
	return fmt.Sprintf("файл документа %s отсутствует: %s", e.DocumentID, e.StoragePath)
}

func (e *MissingBlobError) Is(target error) bool { return target == ErrMissingBlob }

// IOError — сбой операции Op в хранилище (диск или БД).
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

func ioFailure(op string, err error) *IOError {
	return &IOError{Op: op, Err: err}
}
