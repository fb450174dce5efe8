// Пакет filestore — физические файлы документов на диске.
//
// Раскладка MA_DATA_DIR:
//
//	.incoming/{uuid}.part          — загрузка в процессе (ещё не зафиксирована)
//	{recordId}/{documentId}{ext}   — зафиксированный файл документа
//
// Запись идёт во временный файл с подсчётом digest на лету (io.TeeReader),
// затем fsync и атомарный rename в каталог карты.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/medarchive/internal/storage/hasher"
)

// IncomingDir — служебный каталог незафиксированных загрузок.
const IncomingDir = ".incoming"

const partSuffix = ".part"

// ErrTooLarge — поток превысил допустимый размер.
var ErrTooLarge = errors.New("превышен максимальный размер файла")

// ErrInvalidPath — путь выходит за пределы MA_DATA_DIR или содержит служебный каталог.
var ErrInvalidPath = errors.New("недопустимый путь хранения")

// FileStore — файлы документов в MA_DATA_DIR.
type FileStore struct {
	dataDir string
}

// TempFile — загруженный, но не зафиксированный файл.
type TempFile struct {
	// Path — абсолютный путь в .incoming
	Path   string
	Size   int64
	Digest string
}

// FileInfo — зафиксированный файл, найденный при обходе.
type FileInfo struct {
	// StoragePath — {recordId}/{name}
	StoragePath string
	RecordID    string
	Size        int64
	ModTime     time.Time
}

// New создаёт FileStore и каталоги dataDir, dataDir/.incoming.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, IncomingDir), 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

// SaveTemp записывает поток во временный файл, считая digest на лету.
// maxSize > 0 ограничивает размер: при превышении возвращается ErrTooLarge
// и временный файл удаляется. Любая ошибка чтения — отказ без частичного digest.
func (s *FileStore) SaveTemp(r io.Reader, maxSize int64) (*TempFile, error) {
	path := filepath.Join(s.dataDir, IncomingDir, uuid.New().String()+partSuffix)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	src := r
	if maxSize > 0 {
		src = io.LimitReader(r, maxSize+1)
	}
	h := hasher.New()

	size, err := io.Copy(f, io.TeeReader(src, h))
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}
	if maxSize > 0 && size > maxSize {
		f.Close()
		os.Remove(path)
		return nil, ErrTooLarge
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	return &TempFile{Path: path, Size: size, Digest: hasher.Encode(h)}, nil
}

// Discard удаляет временный файл. Отсутствие файла не ошибка.
func (s *FileStore) Discard(tmp *TempFile) error {
	if tmp == nil {
		return nil
	}
	if err := os.Remove(tmp.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления временного файла %s: %w", tmp.Path, err)
	}
	return nil
}

// StoragePath возвращает путь хранения {recordId}/{storedName}.
func StoragePath(recordID, storedName string) string {
	return recordID + "/" + storedName
}

// StoredName формирует имя файла на диске: {documentId}{ext}.
// Расширение берётся из оригинального имени, приводится к нижнему регистру
// и очищается от небезопасных символов.
func StoredName(documentID, originalFilename string) string {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	ext = sanitizeExt(ext)
	return documentID + ext
}

// Commit перемещает временный файл в каталог карты.
// Возвращает путь хранения относительно dataDir.
func (s *FileStore) Commit(tmp *TempFile, recordID, storedName string) (string, error) {
	storagePath := StoragePath(recordID, storedName)
	full, err := s.resolve(storagePath)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("ошибка создания каталога карты %s: %w", recordID, err)
	}
	if _, err := os.Stat(full); err == nil {
		return "", fmt.Errorf("файл %s уже существует: %w", storagePath, fs.ErrExist)
	}
	if err := os.Rename(tmp.Path, full); err != nil {
		return "", fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return storagePath, nil
}

// Open открывает зафиксированный файл. Отсутствие файла распознаётся
// через errors.Is(err, fs.ErrNotExist). Вызывающий код закрывает файл.
func (s *FileStore) Open(storagePath string) (*os.File, error) {
	full, err := s.resolve(storagePath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", storagePath, err)
	}
	return f, nil
}

// Stat возвращает информацию о зафиксированном файле.
func (s *FileStore) Stat(storagePath string) (os.FileInfo, error) {
	full, err := s.resolve(storagePath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения информации о файле %s: %w", storagePath, err)
	}
	return info, nil
}

// Exists проверяет наличие файла.
func (s *FileStore) Exists(storagePath string) bool {
	_, err := s.Stat(storagePath)
	return err == nil
}

// Delete удаляет файл. Ошибка оборачивает fs.ErrNotExist, если файла нет:
// вызывающий код сам решает, считать ли это нормой.
func (s *FileStore) Delete(storagePath string) error {
	full, err := s.resolve(storagePath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("ошибка удаления файла %s: %w", storagePath, err)
	}
	return nil
}

// ComputeChecksum вычисляет digest зафиксированного файла тем же
// алгоритмом, что и при загрузке.
func (s *FileStore) ComputeChecksum(storagePath string) (string, error) {
	full, err := s.resolve(storagePath)
	if err != nil {
		return "", err
	}
	return hasher.File(full)
}

// Walk обходит зафиксированные файлы: {dataDir}/{recordId}/{name}.
// Служебные и скрытые каталоги и файлы пропускаются.
func (s *FileStore) Walk(fn func(FileInfo) error) error {
	records, err := os.ReadDir(s.dataDir)
	if err != nil {
		return fmt.Errorf("ошибка чтения директории данных: %w", err)
	}

	for _, rec := range records {
		if !rec.IsDir() || strings.HasPrefix(rec.Name(), ".") {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.dataDir, rec.Name()))
		if err != nil {
			return fmt.Errorf("ошибка чтения каталога карты %s: %w", rec.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() || strings.HasPrefix(f.Name(), ".") {
				continue
			}
			info, err := f.Info()
			if err != nil {
				// Файл удалён между ReadDir и Info
				continue
			}
			if err := fn(FileInfo{
				StoragePath: StoragePath(rec.Name(), f.Name()),
				RecordID:    rec.Name(),
				Size:        info.Size(),
				ModTime:     info.ModTime(),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// CleanIncoming удаляет временные файлы старше olderThan.
// Возвращает число удалённых файлов.
func (s *FileStore) CleanIncoming(olderThan time.Duration, now time.Time) (int, error) {
	dir := filepath.Join(s.dataDir, IncomingDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения %s: %w", dir, err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), partSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < olderThan {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// FullPath возвращает абсолютный путь файла.
func (s *FileStore) FullPath(storagePath string) string {
	return filepath.Join(s.dataDir, filepath.FromSlash(storagePath))
}

// DataDir возвращает корневой каталог хранения.
func (s *FileStore) DataDir() string {
	return s.dataDir
}

// resolve проверяет, что путь имеет вид {recordId}/{name} без выхода за dataDir.
func (s *FileStore) resolve(storagePath string) (string, error) {
	parts := strings.Split(storagePath, "/")
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, storagePath)
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.HasPrefix(p, ".") ||
			strings.ContainsAny(p, `\`) {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, storagePath)
		}
	}
	return filepath.Join(s.dataDir, parts[0], parts[1]), nil
}

// sanitizeExt оставляет в расширении только латиницу и цифры.
func sanitizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	var b strings.Builder
	b.WriteByte('.')
	for _, r := range strings.TrimPrefix(ext, ".") {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 1 || b.Len() > 10 {
		return ""
	}
	return b.String()
}
