// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package codec

import (
	"fmt"
	"time"
)

const (
	ShortDateTimeBytes int = 4
	LongDateTimeBytes  int = 7
)

// 2桁年の世紀の境目(80～99は1900年代、00～79は2000年代)
const CenturyCutoff int = 80

// 2桁年を西暦にする
func ExpandYear(yy int) int {
	if yy >= CenturyCutoff {
		return 1900 + yy
	}
	return 2000 + yy
}

// DaysIn は月の日数を返す。
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func decodeFields(b []byte) ([]int, error) {
	fields := make([]int, len(b))
	for i, v := range b {
		n, err := BCDToByte(v)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		fields[i] = n
	}
	return fields, nil
}

func checkRange(name string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s=%d", ErrOutOfRange, name, v)
	}
	return nil
}

// ShortDateTime は月,日,時,分の4バイトBCDを日時にする。
// 年は持たないので現在の年とし、未来になるなら前年とする。
func ShortDateTime(b []byte, now time.Time) (time.Time, error) {
	if len(b) != ShortDateTimeBytes {
		return time.Time{}, fmt.Errorf("%w: short datetime length %d", ErrOutOfRange, len(b))
	}
	f, err := decodeFields(b)
	if err != nil {
		return time.Time{}, err
	}
	month, day, hour, minute := f[0], f[1], f[2], f[3]
	if err := checkRange("month", month, 1, 12); err != nil {
		return time.Time{}, err
	}
	// うるう年で最大日数を確認する
	if err := checkRange("day", day, 1, DaysIn(2000, time.Month(month))); err != nil {
		return time.Time{}, err
	}
	if err := checkRange("hour", hour, 0, 23); err != nil {
		return time.Time{}, err
	}
	if err := checkRange("minute", minute, 0, 59); err != nil {
		return time.Time{}, err
	}
	// now以前で一番近い年。2月29日はうるう年まで遡る。
	for year := now.Year(); year >= now.Year()-8; year-- {
		if day > DaysIn(year, time.Month(month)) {
			continue
		}
		t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, now.Location())
		if !t.After(now) {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: no %02d-%02d before %s", ErrOutOfRange, month, day, now.Format(time.DateOnly))
}

// EncodeShortDateTime は日時を月,日,時,分の4バイトBCDにする。
func EncodeShortDateTime(t time.Time) []byte {
	// どの値も2桁に収まる
	b := make([]byte, 0, ShortDateTimeBytes)
	for _, v := range []int{int(t.Month()), t.Day(), t.Hour(), t.Minute()} {
		d, _ := ByteToBCD(v)
		b = append(b, d)
	}
	return b
}

// LongDateTime は年,月,日,時,分,秒,曜日の7バイトBCDを日時にする。
func LongDateTime(b []byte, loc *time.Location) (time.Time, error) {
	if len(b) != LongDateTimeBytes {
		return time.Time{}, fmt.Errorf("%w: long datetime length %d", ErrOutOfRange, len(b))
	}
	f, err := decodeFields(b)
	if err != nil {
		return time.Time{}, err
	}
	year := ExpandYear(f[0])
	month, day, hour, minute, second, weekday := f[1], f[2], f[3], f[4], f[5], f[6]
	if err := checkRange("month", month, 1, 12); err != nil {
		return time.Time{}, err
	}
	if err := checkRange("day", day, 1, DaysIn(year, time.Month(month))); err != nil {
		return time.Time{}, err
	}
	if err := checkRange("hour", hour, 0, 23); err != nil {
		return time.Time{}, err
	}
	if err := checkRange("minute", minute, 0, 59); err != nil {
		return time.Time{}, err
	}
	if err := checkRange("second", second, 0, 59); err != nil {
		return time.Time{}, err
	}
	if err := checkRange("weekday", weekday, 0, 6); err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.Local
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, loc), nil
}

// EncodeLongDateTime は日時を7バイトBCDにする。
// 2桁年で表せない年はエラーになる。
func EncodeLongDateTime(t time.Time) ([]byte, error) {
	if t.Year() < 1900+CenturyCutoff || t.Year() >= 2000+CenturyCutoff {
		return nil, fmt.Errorf("%w: year %d", ErrOutOfRange, t.Year())
	}
	b := make([]byte, 0, LongDateTimeBytes)
	for _, v := range []int{t.Year() % 100, int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second(), int(t.Weekday())} {
		d, _ := ByteToBCD(v)
		b = append(b, d)
	}
	return b, nil
}
