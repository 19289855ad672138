// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>

// Package tou はメーターのTOU暦(イベントリストと季節表)を符号化・復号する。
package tou

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/ak1211/scsmeter/internal/codec"
)

const EventBytes int = 2

type EventKind int

const (
	KindUnknown EventKind = iota
	KindStartYear
	KindSeasonSelect
	KindHolidaySelect
	KindDSTChange
	KindCalendarEnd
)

func (k EventKind) String() string {
	switch k {
	case KindStartYear:
		return "StartYear"
	case KindSeasonSelect:
		return "SeasonSelect"
	case KindHolidaySelect:
		return "HolidaySelect"
	case KindDSTChange:
		return "DSTChange"
	case KindCalendarEnd:
		return "CalendarEnd"
	default:
		return "Unknown"
	}
}

type DSTDirection int

const (
	Advance DSTDirection = iota // 夏時間開始
	Retard                      // 夏時間終了
)

func (d DSTDirection) String() string {
	if d == Advance {
		return "Advance"
	}
	return "Retard"
}

// Event はイベントリストの1項目。
type Event struct {
	Kind        EventKind
	Year        int // StartYearのみ
	Season      int // SeasonSelectのみ
	DemandReset bool
	Direction   DSTDirection
	Month       time.Month
	Day         int
	Raw         uint16 // 復号元の値
}

func StartYear(year int) Event { return Event{Kind: KindStartYear, Year: year} }

func SeasonSelect(season int, d codec.Date, demandReset bool) Event {
	return Event{Kind: KindSeasonSelect, Season: season, DemandReset: demandReset, Month: d.Month, Day: d.Day}
}

func HolidaySelect(d codec.Date) Event {
	return Event{Kind: KindHolidaySelect, Month: d.Month, Day: d.Day}
}

func DSTChange(dir DSTDirection, d codec.Date) Event {
	return Event{Kind: KindDSTChange, Direction: dir, Month: d.Month, Day: d.Day}
}

func CalendarEnd() Event { return Event{Kind: KindCalendarEnd} }

// Date はStartYearで与えられた年と組み合わせた日付。
func (e Event) Date(year int) codec.Date {
	return codec.Date{Year: year, Month: e.Month, Day: e.Day}
}

func (e Event) String() string {
	switch e.Kind {
	case KindStartYear:
		return fmt.Sprintf("StartYear(%d)", e.Year)
	case KindSeasonSelect:
		return fmt.Sprintf("SeasonSelect(%d, %02d-%02d, reset=%v)", e.Season, int(e.Month), e.Day, e.DemandReset)
	case KindHolidaySelect:
		return fmt.Sprintf("HolidaySelect(%02d-%02d)", int(e.Month), e.Day)
	case KindDSTChange:
		return fmt.Sprintf("DSTChange(%v, %02d-%02d)", e.Direction, int(e.Month), e.Day)
	case KindCalendarEnd:
		return "CalendarEnd"
	default:
		return fmt.Sprintf("Unknown(%04x)", e.Raw)
	}
}

// 上位3ビットの種別
const (
	tagSeason    uint16 = 0
	tagHoliday   uint16 = 1
	tagAdvance   uint16 = 2
	tagRetard    uint16 = 3
	tagStartYear uint16 = 4
	calendarEnd  uint16 = 0xffff
)

func packMonthDay(m time.Month, d int) (uint16, error) {
	if m < time.January || m > time.December || d < 1 || d > codec.DaysIn(2000, m) {
		return 0, fmt.Errorf("%w: month %d day %d", codec.ErrOutOfRange, int(m), d)
	}
	return uint16(m)<<5 | uint16(d), nil
}

// EncodeEvent はイベントを16ビット値にする。
//
//	bit 15-13 種別, 12-10 季節, 9 デマンドリセット, 8-5 月, 4-0 日
//	StartYearは下位8ビットに2桁年のBCD、CalendarEndは0xffff
func EncodeEvent(e Event) (uint16, error) {
	switch e.Kind {
	case KindStartYear:
		if e.Year < 1900+codec.CenturyCutoff || e.Year >= 2000+codec.CenturyCutoff {
			return 0, fmt.Errorf("%w: year %d", codec.ErrOutOfRange, e.Year)
		}
		yy, _ := codec.ByteToBCD(e.Year % 100)
		return tagStartYear<<13 | uint16(yy), nil
	case KindSeasonSelect:
		if e.Season < 0 || e.Season >= MaxSeasons {
			return 0, fmt.Errorf("%w: season %d", codec.ErrOutOfRange, e.Season)
		}
		md, err := packMonthDay(e.Month, e.Day)
		if err != nil {
			return 0, err
		}
		w := tagSeason<<13 | uint16(e.Season)<<10 | md
		if e.DemandReset {
			w |= 1 << 9
		}
		return w, nil
	case KindHolidaySelect:
		md, err := packMonthDay(e.Month, e.Day)
		if err != nil {
			return 0, err
		}
		return tagHoliday<<13 | md, nil
	case KindDSTChange:
		md, err := packMonthDay(e.Month, e.Day)
		if err != nil {
			return 0, err
		}
		if e.Direction == Advance {
			return tagAdvance<<13 | md, nil
		}
		return tagRetard<<13 | md, nil
	case KindCalendarEnd:
		return calendarEnd, nil
	case KindUnknown:
		return e.Raw, nil
	}
	return 0, fmt.Errorf("%w: event kind %d", codec.ErrOutOfRange, e.Kind)
}

// DecodeEvent は16ビット値をイベントにする。解釈できない値はKindUnknownになる。
func DecodeEvent(w uint16) Event {
	unknown := Event{Kind: KindUnknown, Raw: w}
	if w == calendarEnd {
		return Event{Kind: KindCalendarEnd, Raw: w}
	}
	tag := w >> 13
	if tag == tagStartYear {
		if w&0x1f00 != 0 {
			return unknown
		}
		yy, err := codec.BCDToByte(byte(w))
		if err != nil {
			return unknown
		}
		return Event{Kind: KindStartYear, Year: codec.ExpandYear(yy), Raw: w}
	}
	month := time.Month(w >> 5 & 0x0f)
	day := int(w & 0x1f)
	if _, err := packMonthDay(month, day); err != nil {
		return unknown
	}
	switch tag {
	case tagSeason:
		return Event{
			Kind:        KindSeasonSelect,
			Season:      int(w >> 10 & 0x07),
			DemandReset: w&(1<<9) != 0,
			Month:       month,
			Day:         day,
			Raw:         w,
		}
	case tagHoliday, tagAdvance, tagRetard:
		if w&0x1e00 != 0 {
			return unknown
		}
		switch tag {
		case tagHoliday:
			return Event{Kind: KindHolidaySelect, Month: month, Day: day, Raw: w}
		case tagAdvance:
			return Event{Kind: KindDSTChange, Direction: Advance, Month: month, Day: day, Raw: w}
		default:
			return Event{Kind: KindDSTChange, Direction: Retard, Month: month, Day: day, Raw: w}
		}
	}
	return unknown
}

// EncodeEvents はイベントリストをメーターの並び(各2バイトの下位バイトが先)にする。
func EncodeEvents(events []Event) ([]byte, error) {
	buf := make([]byte, 0, EventBytes*len(events))
	for i, e := range events {
		w, err := EncodeEvent(e)
		if err != nil {
			return nil, fmt.Errorf("event %d %v: %w", i, e, err)
		}
		buf = binary.LittleEndian.AppendUint16(buf, w)
	}
	return buf, nil
}

// DecodeEvents はメーターの並びからイベントリストを読む。CalendarEndで終わる。
func DecodeEvents(b []byte) []Event {
	var events []Event
	for i := 0; i+EventBytes <= len(b); i += EventBytes {
		e := DecodeEvent(binary.LittleEndian.Uint16(b[i:]))
		events = append(events, e)
		if e.Kind == KindCalendarEnd {
			break
		}
	}
	return events
}

// 同じ日のイベントの並び順
func kindOrder(e Event) int {
	switch e.Kind {
	case KindSeasonSelect:
		return 0
	case KindHolidaySelect:
		return 1
	case KindDSTChange:
		return 2
	}
	return 3
}

// SortYear は一年分のイベントを日付順に並べる。
func SortYear(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		return kindOrder(a) < kindOrder(b)
	})
}

// Validate はイベントリストが整っているか調べる。
// StartYearで始まり、年は増加し、年内は日付順で、CalendarEndがちょうど1つ末尾にある。
func Validate(events []Event) error {
	if len(events) == 0 || events[0].Kind != KindStartYear {
		return fmt.Errorf("%w: calendar must begin with StartYear", ErrMalformedCalendar)
	}
	last := events[len(events)-1]
	if last.Kind != KindCalendarEnd {
		return fmt.Errorf("%w: calendar must end with CalendarEnd", ErrMalformedCalendar)
	}
	year := 0
	var prev *Event
	for i, e := range events[:len(events)-1] {
		switch e.Kind {
		case KindStartYear:
			if e.Year <= year {
				return fmt.Errorf("%w: year %d at %d is not increasing", ErrMalformedCalendar, e.Year, i)
			}
			year = e.Year
			prev = nil
		case KindCalendarEnd:
			return fmt.Errorf("%w: CalendarEnd at %d before the end", ErrMalformedCalendar, i)
		case KindUnknown:
			return fmt.Errorf("%w: unknown event %04x at %d", ErrMalformedCalendar, e.Raw, i)
		default:
			if !e.Date(year).Valid() {
				return fmt.Errorf("%w: %v is not a date in %d", ErrMalformedCalendar, e, year)
			}
			if prev != nil && e.Date(year).Before(prev.Date(year)) {
				return fmt.Errorf("%w: %v out of order in %d", ErrMalformedCalendar, e, year)
			}
			p := e
			prev = &p
		}
	}
	return nil
}
