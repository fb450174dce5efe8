// Пакет retention — расчёт срока хранения медицинской карты.
// Срок отсчитывается от даты последней активности и прибавляется
// в календарных годах, а не фиксированным числом дней.
package retention

import "time"

// DefaultYears — законный срок хранения карты в годах.
const DefaultYears = 20

// ExpiryOf возвращает дату окончания срока хранения: activity + years лет.
// Месяц и день сохраняются; 29 февраля в невисокосный год переходит на 1 марта.
// Нулевая дата считается «не задана»: второй результат false.
// years <= 0 заменяется на DefaultYears.
func ExpiryOf(activity time.Time, years int) (time.Time, bool) {
	if activity.IsZero() {
		return time.Time{}, false
	}
	if years <= 0 {
		years = DefaultYears
	}
	return activity.AddDate(years, 0, 0), true
}

// Calculator — калькулятор с фиксированным сроком из конфигурации.
type Calculator struct {
	years int
}

// NewCalculator создаёт калькулятор. years <= 0 — DefaultYears.
func NewCalculator(years int) Calculator {
	if years <= 0 {
		years = DefaultYears
	}
	return Calculator{years: years}
}

// Years возвращает срок хранения в годах.
func (c Calculator) Years() int {
	return c.years
}

// ExpiryOf возвращает указатель на дату окончания срока или nil для нулевой даты.
func (c Calculator) ExpiryOf(activity time.Time) *time.Time {
	exp, ok := ExpiryOf(activity, c.years)
	if !ok {
		return nil
	}
	return &exp
}
