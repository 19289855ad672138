// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package codec

import (
	"fmt"
	"time"
)

const DateBytes int = 3

// Date は時刻を持たない日付。ゼロ値は「日付なし」。
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func DateOf(t time.Time) Date {
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// ParseDate は "2006-01-02" 形式を読む。
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %v", ErrOutOfRange, err)
	}
	return DateOf(t), nil
}

func (d Date) IsZero() bool { return d == Date{} }

// Valid は実在する日付か調べる。
func (d Date) Valid() bool {
	if d.Month < time.January || d.Month > time.December || d.Day < 1 {
		return false
	}
	return d.Day <= DaysIn(d.Year, d.Month)
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) Time(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// DecodeDate は年,月,日の3バイトBCDを読む。すべて0なら日付なし。
func DecodeDate(b []byte) (Date, error) {
	if len(b) != DateBytes {
		return Date{}, fmt.Errorf("%w: date length %d", ErrOutOfRange, len(b))
	}
	if b[0] == 0 && b[1] == 0 && b[2] == 0 {
		return Date{}, nil
	}
	f, err := decodeFields(b)
	if err != nil {
		return Date{}, err
	}
	d := Date{Year: ExpandYear(f[0]), Month: time.Month(f[1]), Day: f[2]}
	if !d.Valid() {
		return Date{}, fmt.Errorf("%w: date %v", ErrOutOfRange, d)
	}
	return d, nil
}

// EncodeDate は日付を3バイトBCDにする。
func EncodeDate(d Date) ([]byte, error) {
	if d.IsZero() {
		return make([]byte, DateBytes), nil
	}
	if !d.Valid() || d.Year < 1900+CenturyCutoff || d.Year >= 2000+CenturyCutoff {
		return nil, fmt.Errorf("%w: date %v", ErrOutOfRange, d)
	}
	b := make([]byte, 0, DateBytes)
	for _, v := range []int{d.Year % 100, int(d.Month), d.Day} {
		x, _ := ByteToBCD(v)
		b = append(b, x)
	}
	return b, nil
}
