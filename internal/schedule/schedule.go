// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>

// Package schedule は時間帯別料金(TOU)とDSTのスケジュールファイルを読む。
package schedule

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ak1211/scsmeter/internal/codec"
)

var (
	ErrScheduleInvalid = errors.New("schedule invalid")
	ErrDSTInvalid      = errors.New("DST schedule invalid")
)

// 料金区分(A～G)と出力(1～4)
const (
	MaxRates   int = 7
	MaxOutputs int = 4
)

// Date はYAMLの "2006-01-02" を読む。
type Date struct {
	codec.Date
}

func (d *Date) UnmarshalYAML(value *yaml.Node) error {
	v, err := codec.ParseDate(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	d.Date = v
	return nil
}

// TimeOfDay はYAMLの "15:04" を読む。
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t *TimeOfDay) UnmarshalYAML(value *yaml.Node) error {
	hh, mm, ok := strings.Cut(value.Value, ":")
	if !ok {
		return fmt.Errorf("line %d: bad time %q", value.Line, value.Value)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return fmt.Errorf("line %d: bad time %q", value.Line, value.Value)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return fmt.Errorf("line %d: bad time %q", value.Line, value.Value)
	}
	t.Hour, t.Minute = h, m
	return nil
}

func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// Switchpoint は料金区分か出力のどちらかを切り替える。
type Switchpoint struct {
	Start   TimeOfDay `yaml:"start"`
	Rate    string    `yaml:"rate"`
	Outputs []int     `yaml:"outputs"`
}

// IsRate は料金区分の切り替えか返す。
func (s Switchpoint) IsRate() bool { return s.Rate != "" }

// RateIndex は料金区分Aを0とする番号。
func (s Switchpoint) RateIndex() int {
	return int(strings.ToUpper(s.Rate)[0] - 'A')
}

// OutputMask は出力1をビット0とするマスク。
func (s Switchpoint) OutputMask() uint8 {
	var mask uint8
	for _, o := range s.Outputs {
		mask |= 1 << (o - 1)
	}
	return mask
}

type Pattern struct {
	ID           int           `yaml:"id"`
	Name         string        `yaml:"name"`
	Switchpoints []Switchpoint `yaml:"switchpoints"`
}

type Season struct {
	Number  int    `yaml:"number"`
	Name    string `yaml:"name"`
	Normal  []int  `yaml:"normal"`
	Holiday int    `yaml:"holiday"`
}

type EventType string

const (
	EventSeason  EventType = "season"
	EventHoliday EventType = "holiday"
	EventDSTTo   EventType = "dstTo"
	EventDSTFrom EventType = "dstFrom"
)

type Event struct {
	Type        EventType `yaml:"type"`
	Date        Date      `yaml:"date"`
	Season      int       `yaml:"season"`
	DemandReset bool      `yaml:"demandReset"`
}

type Year struct {
	Year   int     `yaml:"year"`
	Events []Event `yaml:"events"`
}

// TOU はTOUスケジュールファイルの内容。
type TOU struct {
	ID          int       `yaml:"id"`
	Name        string    `yaml:"name"`
	Expiration  *Date     `yaml:"expiration"`
	Devices     []string  `yaml:"devices"`
	TypicalWeek []string  `yaml:"typicalWeek"`
	Patterns    []Pattern `yaml:"patterns"`
	Seasons     []Season  `yaml:"seasons"`
	Years       []Year    `yaml:"years"`
}

// Supports は機種ファミリーが対応リストにあるか返す。
func (s *TOU) Supports(family string) bool {
	for _, d := range s.Devices {
		if strings.EqualFold(d, family) {
			return true
		}
	}
	return false
}

// Pattern はIDでパターンを探す。
func (s *TOU) Pattern(id int) (Pattern, bool) {
	for _, p := range s.Patterns {
		if p.ID == id {
			return p, true
		}
	}
	return Pattern{}, false
}

// SortedSeasons は番号順の季節を返す。
func (s *TOU) SortedSeasons() []Season {
	seasons := append([]Season{}, s.Seasons...)
	sort.SliceStable(seasons, func(i, j int) bool { return seasons[i].Number < seasons[j].Number })
	return seasons
}

// SortedYears は年順の暦を返す。
func (s *TOU) SortedYears() []Year {
	years := append([]Year{}, s.Years...)
	sort.SliceStable(years, func(i, j int) bool { return years[i].Year < years[j].Year })
	return years
}

// ExpirationDate は有効期限。指定が無ければゼロ値。
func (s *TOU) ExpirationDate() codec.Date {
	if s.Expiration == nil {
		return codec.Date{}
	}
	return s.Expiration.Date
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrScheduleInvalid, fmt.Sprintf(format, args...))
}

// Validate は内容の矛盾を調べる。
func (s *TOU) Validate() error {
	if s.ID < 0 || s.ID > 9999 {
		return invalid("id %d out of range", s.ID)
	}
	if s.Expiration != nil && !s.Expiration.Valid() {
		return invalid("expiration %v", s.Expiration.Date)
	}
	if len(s.Devices) == 0 {
		return invalid("no supported devices")
	}
	if len(s.TypicalWeek) != 7 {
		return invalid("typicalWeek needs 7 day types, got %d", len(s.TypicalWeek))
	}
	for i, name := range s.TypicalWeek {
		if _, ok := NormalDayIndex(name); !ok {
			return invalid("typicalWeek[%d]: unknown day type %q", i, name)
		}
	}
	patterns := map[int]bool{}
	for _, p := range s.Patterns {
		if patterns[p.ID] {
			return invalid("duplicate pattern id %d", p.ID)
		}
		patterns[p.ID] = true
		if err := validatePattern(p); err != nil {
			return err
		}
	}
	if len(s.Seasons) == 0 {
		return invalid("no seasons")
	}
	seasons := map[int]bool{}
	for _, se := range s.Seasons {
		if seasons[se.Number] {
			return invalid("duplicate season %d", se.Number)
		}
		seasons[se.Number] = true
		if len(se.Normal) == 0 || len(se.Normal) > 3 {
			return invalid("season %d: needs 1 to 3 normal day patterns", se.Number)
		}
		for _, id := range se.Normal {
			if !patterns[id] {
				return invalid("season %d: unknown pattern %d", se.Number, id)
			}
		}
		if se.Holiday != 0 && !patterns[se.Holiday] {
			return invalid("season %d: unknown holiday pattern %d", se.Number, se.Holiday)
		}
	}
	if len(s.Years) == 0 {
		return invalid("no years")
	}
	years := map[int]bool{}
	for _, y := range s.Years {
		if years[y.Year] {
			return invalid("duplicate year %d", y.Year)
		}
		years[y.Year] = true
		if y.Year < 1900+codec.CenturyCutoff || y.Year+1 >= 2000+codec.CenturyCutoff {
			return invalid("year %d out of range", y.Year)
		}
		for _, e := range y.Events {
			if e.Date.Year != y.Year || !e.Date.Valid() {
				return invalid("year %d: event date %v", y.Year, e.Date.Date)
			}
			switch e.Type {
			case EventSeason:
				if !seasons[e.Season] {
					return invalid("year %d: unknown season %d", y.Year, e.Season)
				}
			case EventHoliday, EventDSTTo, EventDSTFrom:
			default:
				return invalid("year %d: unknown event type %q", y.Year, e.Type)
			}
		}
	}
	return nil
}

func validatePattern(p Pattern) error {
	for i, sp := range p.Switchpoints {
		if sp.Start.Hour < 0 || sp.Start.Hour > 23 || sp.Start.Minute < 0 || sp.Start.Minute > 59 {
			return invalid("pattern %d: switchpoint %d: time %v", p.ID, i, sp.Start)
		}
		if i > 0 && sp.Start.Minutes() < p.Switchpoints[i-1].Start.Minutes() {
			return invalid("pattern %d: switchpoints out of order at %v", p.ID, sp.Start)
		}
		switch {
		case sp.IsRate() && len(sp.Outputs) > 0:
			return invalid("pattern %d: switchpoint %d sets both rate and outputs", p.ID, i)
		case sp.IsRate():
			if len(sp.Rate) != 1 {
				return invalid("pattern %d: rate %q", p.ID, sp.Rate)
			}
			if r := sp.RateIndex(); r < 0 || r >= MaxRates {
				return invalid("pattern %d: rate %q", p.ID, sp.Rate)
			}
		default:
			for _, o := range sp.Outputs {
				if o < 1 || o > MaxOutputs {
					return invalid("pattern %d: output %d", p.ID, o)
				}
			}
		}
	}
	return nil
}

// NormalDayIndex は "normal1"～"normal3" を0～2にする。
func NormalDayIndex(name string) (int, bool) {
	switch strings.ToLower(name) {
	case "normal1":
		return 0, true
	case "normal2":
		return 1, true
	case "normal3":
		return 2, true
	}
	return 0, false
}

// ParseTOU はYAMLからTOUスケジュールを読む。
func ParseTOU(data []byte) (*TOU, error) {
	var s TOU
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScheduleInvalid, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadTOU はファイルからTOUスケジュールを読む。
func LoadTOU(path string) (*TOU, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := ParseTOU(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}
