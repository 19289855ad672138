// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package tou

import (
	"fmt"

	"github.com/ak1211/scsmeter/internal/codec"
)

const SwitchpointBytes = 3

type DayType int

const (
	Normal1 DayType = iota
	Normal2
	Normal3
	Holiday
)

func (d DayType) String() string {
	switch d {
	case Normal1:
		return "Normal1"
	case Normal2:
		return "Normal2"
	case Normal3:
		return "Normal3"
	case Holiday:
		return "Holiday"
	}
	return fmt.Sprintf("DayType(%d)", int(d))
}

type SwitchKind int

const (
	Rate SwitchKind = iota
	Output
)

func (k SwitchKind) String() string {
	if k == Output {
		return "Output"
	}
	return "Rate"
}

// Switchpoint は日種別ごとの料金区分または出力の切り替え時刻。
// IDはRateなら料金区分(Aが0)、Outputなら出力のビットマスク。
type Switchpoint struct {
	DayType     DayType
	Hour        int
	Minute      int
	Kind        SwitchKind
	ID          uint8
	EndOfSeason bool
}

// EndOfSeasonMarker は季節の終わり。
func EndOfSeasonMarker() Switchpoint { return Switchpoint{EndOfSeason: true} }

func (s Switchpoint) Minutes() int { return s.Hour*60 + s.Minute }

func (s Switchpoint) String() string {
	if s.EndOfSeason {
		return "EndOfSeason"
	}
	return fmt.Sprintf("%v %02d:%02d %v %d", s.DayType, s.Hour, s.Minute, s.Kind, s.ID)
}

var endOfSeason = [SwitchpointBytes]byte{0xff, 0xff, 0xff}

// EncodeSwitchpoint は3バイトにする。
//
//	byte0: bit 7-6 日種別, bit 5 種類(1=出力), bit 4-0 時
//	byte1: 分
//	byte2: 料金区分または出力マスク
func EncodeSwitchpoint(s Switchpoint) ([]byte, error) {
	if s.EndOfSeason {
		return endOfSeason[:], nil
	}
	if s.DayType < Normal1 || s.DayType > Holiday {
		return nil, fmt.Errorf("%w: day type %d", codec.ErrOutOfRange, s.DayType)
	}
	if s.Hour < 0 || s.Hour > 23 || s.Minute < 0 || s.Minute > 59 {
		return nil, fmt.Errorf("%w: time %02d:%02d", codec.ErrOutOfRange, s.Hour, s.Minute)
	}
	b0 := byte(s.DayType)<<6 | byte(s.Hour)
	if s.Kind == Output {
		b0 |= 1 << 5
	}
	return []byte{b0, byte(s.Minute), s.ID}, nil
}

// DecodeSwitchpoint は3バイトを読む。
func DecodeSwitchpoint(b []byte) (Switchpoint, error) {
	if len(b) != SwitchpointBytes {
		return Switchpoint{}, fmt.Errorf("%w: switchpoint length %d", codec.ErrOutOfRange, len(b))
	}
	if b[0] == 0xff && b[1] == 0xff && b[2] == 0xff {
		return EndOfSeasonMarker(), nil
	}
	s := Switchpoint{
		DayType: DayType(b[0] >> 6),
		Hour:    int(b[0] & 0x1f),
		Minute:  int(b[1]),
		Kind:    Rate,
		ID:      b[2],
	}
	if b[0]&(1<<5) != 0 {
		s.Kind = Output
	}
	if s.Hour > 23 || s.Minute > 59 {
		return Switchpoint{}, fmt.Errorf("%w: switchpoint % x", codec.ErrOutOfRange, b)
	}
	return s, nil
}

// Season は終端を含まない切り替え点の並び。
type Season struct {
	Switchpoints []Switchpoint
}

// Used は切り替え点がひとつでもあるか返す。使われない季節は0バイト。
func (s Season) Used() bool { return len(s.Switchpoints) > 0 }

// Size は終端を含めた符号化後のバイト数。
func (s Season) Size() int {
	if !s.Used() {
		return 0
	}
	return SwitchpointBytes * (len(s.Switchpoints) + 1)
}

// Encode は終端を付けて符号化する。
func (s Season) Encode() ([]byte, error) {
	if !s.Used() {
		return nil, nil
	}
	buf := make([]byte, 0, s.Size())
	for _, sp := range s.Switchpoints {
		b, err := EncodeSwitchpoint(sp)
		if err != nil {
			return nil, err
		}
		buf = append(buf, b...)
	}
	return append(buf, endOfSeason[:]...), nil
}

// DecodeSeason は終端までを読む。終端が無ければエラー。
func DecodeSeason(b []byte) (Season, error) {
	var s Season
	for i := 0; i+SwitchpointBytes <= len(b); i += SwitchpointBytes {
		sp, err := DecodeSwitchpoint(b[i : i+SwitchpointBytes])
		if err != nil {
			return Season{}, err
		}
		if sp.EndOfSeason {
			return s, nil
		}
		s.Switchpoints = append(s.Switchpoints, sp)
	}
	return Season{}, fmt.Errorf("%w: season without end marker", ErrMalformedCalendar)
}

// DayPattern は日種別ひとつ分の切り替え点を返す。
func (s Season) DayPattern(d DayType) []Switchpoint {
	var sps []Switchpoint
	for _, sp := range s.Switchpoints {
		if sp.DayType == d {
			sps = append(sps, sp)
		}
	}
	return sps
}
