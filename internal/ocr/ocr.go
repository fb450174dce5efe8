// Пакет ocr — извлечение текста из изображений документов внешней
// командой, совместимой с tesseract: <command> <image> stdout -l <lang>.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Extractor извлекает текст из файла изображения.
type Extractor interface {
	Extract(ctx context.Context, imagePath string) (string, error)
}

// ErrNotConfigured — команда OCR не задана.
var ErrNotConfigured = errors.New("команда OCR не задана")

// eligible — MIME-типы, пригодные для OCR.
var eligible = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/jpg":  true,
	"image/tiff": true,
	"image/bmp":  true,
}

// Eligible проверяет, обрабатывается ли тип OCR.
func Eligible(mimeType string) bool {
	return eligible[strings.ToLower(mimeType)]
}

// CommandExtractor запускает внешнюю команду OCR.
type CommandExtractor struct {
	command  string
	language string
	timeout  time.Duration
}

// NewCommandExtractor создаёт CommandExtractor.
func NewCommandExtractor(command, language string, timeout time.Duration) (*CommandExtractor, error) {
	if command == "" {
		return nil, ErrNotConfigured
	}
	if _, err := exec.LookPath(command); err != nil {
		return nil, fmt.Errorf("команда OCR %q не найдена: %w", command, err)
	}
	return &CommandExtractor{command: command, language: language, timeout: timeout}, nil
}

// Extract запускает команду и возвращает распознанный текст без
// начальных и конечных пробелов.
func (e *CommandExtractor) Extract(ctx context.Context, imagePath string) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	args := []string{imagePath, "stdout"}
	if e.language != "" {
		args = append(args, "-l", e.language)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("OCR прерван: %w", ctx.Err())
		}
		return "", fmt.Errorf("ошибка OCR: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}
