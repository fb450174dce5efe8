package retention

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestExpiryOf(t *testing.T) {
	tests := []struct {
		name     string
		activity time.Time
		years    int
		want     time.Time
	}{
		{"20 лет", date(2024, time.March, 15), 20, date(2044, time.March, 15)},
		{"срок по умолчанию", date(2024, time.March, 15), 0, date(2044, time.March, 15)},
		{"високосный в високосный", date(2024, time.February, 29), 20, date(2044, time.February, 29)},
		{"високосный в обычный", date(2024, time.February, 29), 1, date(2025, time.March, 1)},
		{"конец года", date(2023, time.December, 31), 20, date(2043, time.December, 31)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExpiryOf(tt.activity, tt.years)
			if !ok {
				t.Fatal("ожидалась вычисленная дата")
			}
			if !got.Equal(tt.want) {
				t.Errorf("ExpiryOf(%s) = %s, ожидалось %s", tt.activity, got, tt.want)
			}
		})
	}
}

func TestExpiryOf_PreservesTimeOfDay(t *testing.T) {
	activity := time.Date(2024, time.July, 1, 13, 45, 10, 0, time.UTC)
	got, _ := ExpiryOf(activity, DefaultYears)
	if got.Year()-activity.Year() != 20 || got.Month() != activity.Month() || got.Day() != activity.Day() {
		t.Errorf("неверная дата: %s", got)
	}
	if got.Hour() != 13 || got.Minute() != 45 {
		t.Errorf("время суток должно сохраняться: %s", got)
	}
}

func TestExpiryOf_Unset(t *testing.T) {
	if _, ok := ExpiryOf(time.Time{}, 20); ok {
		t.Error("для нулевой даты срок не должен вычисляться")
	}
}

func TestCalculator(t *testing.T) {
	c := NewCalculator(-1)
	if c.Years() != DefaultYears {
		t.Errorf("Years = %d, ожидалось %d", c.Years(), DefaultYears)
	}
	if c.ExpiryOf(time.Time{}) != nil {
		t.Error("ожидался nil для нулевой даты")
	}

	exp := c.ExpiryOf(date(2024, time.March, 15))
	if exp == nil || !exp.Equal(date(2044, time.March, 15)) {
		t.Errorf("ExpiryOf = %v", exp)
	}
}
