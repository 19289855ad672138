// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package tou

import (
	"fmt"

	"github.com/ak1211/scsmeter/internal/codec"
)

// Calendar はメーターから読んだ、またはメーターへ書くTOU暦の全体。
type Calendar struct {
	Info    Info
	Events  []Event
	Seasons [MaxSeasons]Season
}

// Year はStartYearから次のStartYearまでのイベント。
type Year struct {
	Year   int
	Events []Event
}

// DSTDates は一年分の夏時間の切り替え日。
type DSTDates struct {
	Year    int
	Advance codec.Date
	Retard  codec.Date
}

// Years はイベントリストを年ごとにまとめる。最初のStartYearより前のイベントは捨てる。
// 後ろに続くイベントが無いStartYearも空の年として返す。
func Years(events []Event) []Year {
	var years []Year
	for _, e := range events {
		switch e.Kind {
		case KindStartYear:
			years = append(years, Year{Year: e.Year})
		case KindCalendarEnd:
			return years
		default:
			if len(years) > 0 {
				y := &years[len(years)-1]
				y.Events = append(y.Events, e)
			}
		}
	}
	return years
}

// DSTDatesOf はイベントリストに含まれる夏時間の切り替え日を年ごとに返す。
func DSTDatesOf(events []Event) []DSTDates {
	var list []DSTDates
	for _, y := range Years(events) {
		d := DSTDates{Year: y.Year}
		found := false
		for _, e := range y.Events {
			if e.Kind != KindDSTChange {
				continue
			}
			found = true
			if e.Direction == Advance {
				d.Advance = e.Date(y.Year)
			} else {
				d.Retard = e.Date(y.Year)
			}
		}
		if found {
			list = append(list, d)
		}
	}
	return list
}

// SeasonAt はその日に選ばれている季節を返す。暦に無ければfalse。
func SeasonAt(events []Event, day codec.Date) (int, bool) {
	season, ok := 0, false
	for _, y := range Years(events) {
		if y.Year > day.Year {
			break
		}
		for _, e := range y.Events {
			if e.Kind != KindSeasonSelect {
				continue
			}
			if y.Year == day.Year && day.Before(e.Date(y.Year)) {
				break
			}
			season, ok = e.Season, true
		}
	}
	return season, ok
}

// DecodeCalendar は情報ブロック、イベントリスト、季節ごとの表から暦を組み立てる。
// 空の表は使われない季節。
func DecodeCalendar(info Info, eventTable []byte, seasonTables [MaxSeasons][]byte) (*Calendar, error) {
	c := &Calendar{Info: info, Events: DecodeEvents(eventTable)}
	for i, table := range seasonTables {
		if len(table) == 0 {
			continue
		}
		s, err := DecodeSeason(table)
		if err != nil {
			return nil, fmt.Errorf("season %d: %w", i, err)
		}
		c.Seasons[i] = s
	}
	return c, nil
}

// Years は暦を年ごとにまとめる。
func (c *Calendar) Years() []Year { return Years(c.Events) }

// DSTDates は暦の夏時間の切り替え日。
func (c *Calendar) DSTDates() []DSTDates { return DSTDatesOf(c.Events) }
