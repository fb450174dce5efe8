package checklist

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// ErrUnknownItem — в обновлении передан пункт, которого нет в каталоге.
var ErrUnknownItem = errors.New("неизвестный пункт чек-листа")

// State — состояние чек-листа.
type State string

const (
	StateIncomplete State = "incomplete"
	StateComplete   State = "complete"
)

// Items — значения пунктов. Отсутствующий ключ равен false.
type Items map[Item]bool

// Checklist — чек-лист карты. Один на MedicalRecord.
type Checklist struct {
	RecordID string `json:"record_id"`
	Items    Items  `json:"items"`
	Notes    string `json:"notes,omitempty"`

	// CompletedBy — пользователь, переведший чек-лист в complete
	CompletedBy *string `json:"completed_by,omitempty"`
	// CompletedAt != nil тогда и только тогда, когда отмечены все обязательные пункты
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	UpdatedBy string    `json:"updated_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Update — изменение чек-листа. Непереданные пункты сохраняют прежнее значение.
// Notes == nil — заметки не меняются.
type Update struct {
	Items Items
	Notes *string
}

// New возвращает пустой чек-лист: все пункты false.
func New(recordID string, now time.Time) *Checklist {
	items := make(Items, len(catalog))
	for _, r := range catalog {
		items[r.Item] = false
	}
	return &Checklist{
		RecordID:  recordID,
		Items:     items,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate проверяет, что все пункты обновления известны каталогу.
func (u Update) Validate() error {
	var unknown []string
	for item := range u.Items {
		if !Known(item) {
			unknown = append(unknown, string(item))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: %s", ErrUnknownItem, strings.Join(unknown, ", "))
	}
	return nil
}

// Evaluate возвращает состояние для набора значений.
func Evaluate(items Items) State {
	for _, item := range Mandatory() {
		if !items[item] {
			return StateIncomplete
		}
	}
	return StateComplete
}

// State возвращает текущее состояние чек-листа.
func (c *Checklist) State() State {
	return Evaluate(c.Items)
}

// Apply сливает обновление и пересчитывает отметку завершения:
//   - incomplete → complete: CompletedAt = now, CompletedBy = actor
//   - complete → complete: прежняя отметка сохраняется
//   - * → incomplete: отметка снимается
func (c *Checklist) Apply(u Update, actor string, now time.Time) error {
	if err := u.Validate(); err != nil {
		return err
	}

	if c.Items == nil {
		c.Items = make(Items, len(catalog))
	}
	for item, v := range u.Items {
		c.Items[item] = v
	}
	if u.Notes != nil {
		c.Notes = *u.Notes
	}

	switch c.State() {
	case StateComplete:
		if c.CompletedAt == nil {
			ts := now
			c.CompletedAt = &ts
			if actor != "" {
				a := actor
				c.CompletedBy = &a
			}
		}
	default:
		c.CompletedAt = nil
		c.CompletedBy = nil
	}

	c.UpdatedBy = actor
	c.UpdatedAt = now
	return nil
}

// Status — сводка прогресса для отображения.
type Status struct {
	Exists         bool `json:"exists"`
	Completed      bool `json:"completed"`
	Percentage     int  `json:"completion_percentage"`
	CompletedCount int  `json:"completed_count"`
	TotalCount     int  `json:"total_count"`
}

// StatusOf вычисляет сводку. nil — чек-лист ещё не создан.
// Процент считается по всем пунктам (обязательным и необязательным)
// с округлением до целого.
func StatusOf(c *Checklist) Status {
	total := Total()
	if c == nil {
		return Status{TotalCount: total}
	}

	done := 0
	for _, r := range catalog {
		if c.Items[r.Item] {
			done++
		}
	}

	return Status{
		Exists:         true,
		Completed:      c.CompletedAt != nil,
		Percentage:     int(math.Round(float64(done) / float64(total) * 100)),
		CompletedCount: done,
		TotalCount:     total,
	}
}
