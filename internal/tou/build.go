// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package tou

import (
	"fmt"
	"sort"
	"time"

	"github.com/ak1211/scsmeter/internal/codec"
	"github.com/ak1211/scsmeter/internal/schedule"
)

// BuildOptions はメーターの状態から決まる組み立ての条件。
type BuildOptions struct {
	// メーターの夏時間が有効
	DST bool
	// 夏時間イベントを入れる年数の上限(0なら無し)
	DSTYearLimit int
}

// Build はスケジュールファイルからメーターに書く暦を組み立てる。
// Infoの配置はまだ決まっていないのでFitで決める。
func Build(s *schedule.TOU, dst *schedule.DST, opts BuildOptions) (*Calendar, error) {
	c := &Calendar{}
	c.Info.ScheduleID = s.ID
	c.Info.Expiration = s.ExpirationDate()
	for i, name := range s.TypicalWeek {
		d, ok := schedule.NormalDayIndex(name)
		if !ok {
			return nil, fmt.Errorf("%w: typical week %q", schedule.ErrScheduleInvalid, name)
		}
		c.Info.TypicalWeek[i] = DayType(d)
	}
	seasons, err := EncodeSeasons(s)
	if err != nil {
		return nil, err
	}
	c.Seasons = seasons
	events, err := EncodeCalendar(s, dst, opts)
	if err != nil {
		return nil, err
	}
	c.Events = events
	return c, nil
}

// EncodeSeasons はスケジュールの季節を季節番号の位置に並べた表にする。
func EncodeSeasons(s *schedule.TOU) ([MaxSeasons]Season, error) {
	var seasons [MaxSeasons]Season
	used := usedDayTypes(s.TypicalWeek)
	for _, se := range s.SortedSeasons() {
		if se.Number < 0 || se.Number >= MaxSeasons {
			return seasons, fmt.Errorf("%w: season %d", schedule.ErrScheduleInvalid, se.Number)
		}
		var sps []Switchpoint
		for d := Normal1; d <= Normal3; d++ {
			id := se.Normal[0]
			switch {
			case int(d) < len(se.Normal):
				id = se.Normal[d]
			case !used[d]:
				continue
			}
			day, err := dayPattern(s, d, id)
			if err != nil {
				return seasons, fmt.Errorf("season %d: %w", se.Number, err)
			}
			sps = append(sps, day...)
		}
		holiday := se.Holiday
		if holiday == 0 {
			holiday = se.Normal[0]
		}
		day, err := dayPattern(s, Holiday, holiday)
		if err != nil {
			return seasons, fmt.Errorf("season %d: %w", se.Number, err)
		}
		sps = append(sps, day...)
		seasons[se.Number] = Season{Switchpoints: dropUnusedOutputs(sps)}
	}
	return seasons, nil
}

func usedDayTypes(week []string) map[DayType]bool {
	used := map[DayType]bool{}
	for _, name := range week {
		if d, ok := schedule.NormalDayIndex(name); ok {
			used[DayType(d)] = true
		}
	}
	return used
}

// dayPattern は0時に全出力を切る切り替え点で始まる一日分のパターン。
func dayPattern(s *schedule.TOU, d DayType, id int) ([]Switchpoint, error) {
	p, ok := s.Pattern(id)
	if !ok {
		return nil, fmt.Errorf("%w: unknown pattern %d", schedule.ErrScheduleInvalid, id)
	}
	sps := []Switchpoint{{DayType: d, Kind: Output, ID: 0}}
	for _, sp := range p.Switchpoints {
		out := Switchpoint{DayType: d, Hour: sp.Start.Hour, Minute: sp.Start.Minute}
		if sp.IsRate() {
			out.Kind = Rate
			out.ID = uint8(sp.RateIndex())
		} else {
			out.Kind = Output
			out.ID = sp.OutputMask()
		}
		sps = append(sps, out)
	}
	sort.SliceStable(sps, func(i, j int) bool { return sps[i].Minutes() < sps[j].Minutes() })
	return sps, nil
}

// dropUnusedOutputs は日種別ごとに出力の状態を変えない出力の切り替え点を取り除く。
// どの日も出力を使わない季節では0時の全出力オフも取り除く。
func dropUnusedOutputs(sps []Switchpoint) []Switchpoint {
	usesOutputs := false
	for _, sp := range sps {
		if sp.Kind == Output && sp.ID != 0 {
			usesOutputs = true
			break
		}
	}
	kept := make([]Switchpoint, 0, len(sps))
	state := map[DayType]int{}
	for _, sp := range sps {
		if sp.Kind == Output {
			if !usesOutputs {
				continue
			}
			if last, ok := state[sp.DayType]; ok && last == int(sp.ID) {
				continue
			}
			state[sp.DayType] = int(sp.ID)
		}
		kept = append(kept, sp)
	}
	return kept
}

// EncodeCalendar はスケジュールの年ごとのイベントを並べたイベントリストにする。
// 最後の年の翌年のStartYearとCalendarEndで終わる。
func EncodeCalendar(s *schedule.TOU, dst *schedule.DST, opts BuildOptions) ([]Event, error) {
	years := s.SortedYears()
	if len(years) == 0 {
		return nil, fmt.Errorf("%w: no years", schedule.ErrScheduleInvalid)
	}
	var events []Event
	for n, y := range years {
		var year []Event
		var fileDST []Event
		for _, e := range y.Events {
			switch e.Type {
			case schedule.EventSeason:
				year = append(year, SeasonSelect(e.Season, e.Date.Date, e.DemandReset))
			case schedule.EventHoliday:
				year = append(year, HolidaySelect(e.Date.Date))
			case schedule.EventDSTTo:
				fileDST = append(fileDST, DSTChange(Advance, e.Date.Date))
			case schedule.EventDSTFrom:
				fileDST = append(fileDST, DSTChange(Retard, e.Date.Date))
			}
		}
		if opts.DST && (opts.DSTYearLimit == 0 || n < opts.DSTYearLimit) {
			if p, ok := dst.Pair(y.Year); ok {
				year = append(year, DSTChange(Advance, p.To.Date), DSTChange(Retard, p.From.Date))
			} else if len(fileDST) > 0 {
				year = append(year, fileDST...)
			} else {
				return nil, fmt.Errorf("%w: year %d", ErrDSTDataMissing, y.Year)
			}
		}
		if n == 0 {
			year = ensureNewYearSeason(y.Year, year)
		}
		SortYear(year)
		events = append(events, StartYear(y.Year))
		events = append(events, year...)
	}
	events = append(events, StartYear(years[len(years)-1].Year+1), CalendarEnd())
	if err := Validate(events); err != nil {
		return nil, err
	}
	return events, nil
}

// ensureNewYearSeason は1月1日の季節選択が無ければ足す。
// 季節は年の最後に選ばれる季節とする。
func ensureNewYearSeason(year int, events []Event) []Event {
	newYear := codec.Date{Year: year, Month: time.January, Day: 1}
	season := 0
	var latest *Event
	for i, e := range events {
		if e.Kind != KindSeasonSelect {
			continue
		}
		if e.Date(year) == newYear {
			return events
		}
		if latest == nil || latest.Date(year).Before(e.Date(year)) {
			latest = &events[i]
		}
	}
	if latest != nil {
		season = latest.Season
	}
	return append(events, SeasonSelect(season, newYear, false))
}

// Fit は季節表をseasonStartから詰め、イベントリストがlimitの手前に収まるよう年単位で切り詰める。
// 一年分も収まらなければErrScheduleNotSupported。
func (c *Calendar) Fit(seasonStart, limit uint16) error {
	seasonBytes := 0
	for _, s := range c.Seasons {
		seasonBytes += s.Size()
	}
	available := int(limit) - int(seasonStart)
	events, err := Truncate(c.Events, available-seasonBytes)
	if err != nil {
		return err
	}
	c.Events = events
	return c.Info.Layout(seasonStart, c.Seasons, EventBytes*len(events))
}

// Truncate は年の区切りで切り詰めて、capacityバイトに収まる最も長いイベントリストを返す。
// 残す最後の年の次のStartYearは残し、その後にCalendarEndを置く。
func Truncate(events []Event, capacity int) ([]Event, error) {
	if EventBytes*len(events) <= capacity {
		return events, nil
	}
	best := -1
	for i, e := range events {
		if i == 0 || e.Kind != KindStartYear {
			continue
		}
		if EventBytes*(i+2) <= capacity {
			best = i
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("%w: %d bytes available", ErrScheduleNotSupported, capacity)
	}
	kept := append([]Event{}, events[:best+1]...)
	return append(kept, CalendarEnd()), nil
}

// PatchDST は今日を含む年以降の夏時間イベントの日付をDSTファイルの日付に置き換える。
// 変更があればchangedを真にする。
func PatchDST(events []Event, dst *schedule.DST, today codec.Date) (patched []Event, changed bool, err error) {
	from := max(today.Year, DSTRegulatoryStartYear)
	patched = append([]Event{}, events...)
	year := 0
	yearStart := 0
	dirty := false
	resort := func(end int) {
		if dirty && yearStart < end {
			sortKeepingUnknown(patched[yearStart:end])
		}
		dirty = false
	}
	for i, e := range patched {
		switch e.Kind {
		case KindStartYear:
			resort(i)
			year = e.Year
			yearStart = i + 1
			continue
		case KindCalendarEnd:
			resort(i)
			yearStart = len(patched)
			continue
		case KindDSTChange:
		default:
			continue
		}
		if year < from {
			continue
		}
		p, ok := dst.Pair(year)
		if !ok {
			return nil, false, fmt.Errorf("%w: year %d", ErrDSTDataMissing, year)
		}
		want := p.To.Date
		if e.Direction == Retard {
			want = p.From.Date
		}
		if e.Date(year) == want {
			continue
		}
		if year == today.Year && want.Before(today) {
			return nil, false, fmt.Errorf("%w: %v %v", ErrDatesExpired, e.Direction, want)
		}
		patched[i].Month, patched[i].Day = want.Month, want.Day
		patched[i].Raw = 0
		changed = true
		dirty = true
	}
	resort(len(patched))
	return patched, changed, nil
}

// sortKeepingUnknown は解釈できないイベントをその位置に残して残りを日付順に並べる。
func sortKeepingUnknown(events []Event) {
	var at []int
	var dated []Event
	for i, e := range events {
		if e.Kind != KindUnknown {
			at = append(at, i)
			dated = append(dated, e)
		}
	}
	SortYear(dated)
	for k, i := range at {
		events[i] = dated[k]
	}
}
