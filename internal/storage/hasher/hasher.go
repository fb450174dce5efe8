// Пакет hasher — вычисление контрольной суммы содержимого документа.
// Одна и та же функция используется для дедупликации при загрузке
// и для проверки целостности, поэтому алгоритм и кодировка фиксированы.
// Смена алгоритма — ломающее изменение, требующее миграции всех digest в БД.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// Algorithm — имя алгоритма, сохраняется вместе с документом.
const Algorithm = "sha256"

// DigestLength — длина hex-представления digest.
const DigestLength = sha256.Size * 2

// New возвращает hash.Hash выбранного алгоритма.
// Используется для подсчёта digest на лету (io.TeeReader / io.MultiWriter).
func New() hash.Hash {
	return sha256.New()
}

// Encode кодирует сумму хэша в hex.
func Encode(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// Bytes вычисляет digest буфера в памяти.
func Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Reader вычисляет digest потока. Память ограничена буфером io.Copy.
// При ошибке чтения частичный digest не возвращается.
func Reader(r io.Reader) (string, error) {
	h := New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("ошибка чтения потока: %w", err)
	}
	return Encode(h), nil
}

// File вычисляет digest файла на диске.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("ошибка открытия файла %s: %w", path, err)
	}
	defer f.Close()

	digest, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("ошибка вычисления digest %s: %w", path, err)
	}
	return digest, nil
}

// Valid проверяет формат digest: фиксированная длина, только [0-9a-f].
func Valid(digest string) bool {
	if len(digest) != DigestLength {
		return false
	}
	for _, c := range digest {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
