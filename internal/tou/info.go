// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package tou

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ak1211/scsmeter/internal/codec"
)

var (
	ErrMalformedCalendar    = errors.New("malformed TOU calendar")
	ErrScheduleNotSupported = errors.New("schedule does not fit in meter")
	ErrDSTDataMissing       = errors.New("DST data missing")
	ErrDatesExpired         = errors.New("DST dates already passed")
)

const (
	MaxSeasons int = 8
	InfoBytes  int = 34
	// 米国の夏時間規則が変わった年
	DSTRegulatoryStartYear int = 2007
)

// Info はTOU情報ブロック。
//
//	[0:2]   スケジュールID (BCD)
//	[2:5]   有効期限 (BCD 年月日, 0なら無し)
//	[5:7]   標準週 (日曜から2ビットずつ)
//	[7:9]   イベントリストの先頭
//	[9:11]  イベントリストの大きさ
//	[11:27] 各季節表の先頭
//	[27:34] 季節0～6の表の大きさ (季節7は終端まで)
type Info struct {
	ScheduleID  int
	Expiration  codec.Date
	TypicalWeek [7]DayType
	YearlyStart uint16
	YearlySize  uint16
	SeasonStart [MaxSeasons]uint16
	SeasonSize  [MaxSeasons - 1]uint8
}

// DecodeInfo は情報ブロックを読む。
func DecodeInfo(b []byte) (Info, error) {
	if len(b) != InfoBytes {
		return Info{}, fmt.Errorf("%w: info block length %d", codec.ErrOutOfRange, len(b))
	}
	var info Info
	id, err := codec.BCDToInt(b[0:2])
	if err != nil {
		return Info{}, fmt.Errorf("schedule id: %w", err)
	}
	info.ScheduleID = int(id)
	if info.Expiration, err = codec.DecodeDate(b[2:5]); err != nil {
		return Info{}, fmt.Errorf("expiration: %w", err)
	}
	week := binary.BigEndian.Uint16(b[5:7])
	for i := range info.TypicalWeek {
		info.TypicalWeek[i] = DayType(week >> (2 * i) & 0x03)
	}
	info.YearlyStart = binary.BigEndian.Uint16(b[7:9])
	info.YearlySize = binary.BigEndian.Uint16(b[9:11])
	for i := range info.SeasonStart {
		info.SeasonStart[i] = binary.BigEndian.Uint16(b[11+2*i:])
	}
	copy(info.SeasonSize[:], b[27:34])
	return info, nil
}

// Encode は情報ブロックを書き込む形にする。
func (info Info) Encode() ([]byte, error) {
	b := make([]byte, 0, InfoBytes)
	id, err := codec.IntToBCD(uint32(info.ScheduleID), 2)
	if err != nil {
		return nil, fmt.Errorf("schedule id %d: %w", info.ScheduleID, err)
	}
	b = append(b, id...)
	exp, err := codec.EncodeDate(info.Expiration)
	if err != nil {
		return nil, fmt.Errorf("expiration: %w", err)
	}
	b = append(b, exp...)
	var week uint16
	for i, d := range info.TypicalWeek {
		week |= uint16(d&0x03) << (2 * i)
	}
	b = binary.BigEndian.AppendUint16(b, week)
	b = binary.BigEndian.AppendUint16(b, info.YearlyStart)
	b = binary.BigEndian.AppendUint16(b, info.YearlySize)
	for _, s := range info.SeasonStart {
		b = binary.BigEndian.AppendUint16(b, s)
	}
	return append(b, info.SeasonSize[:]...), nil
}

// TOUConfigured は季節0の表があるか返す。
func (info Info) TOUConfigured() bool { return info.SeasonSize[0] > 0 }

// SeasonsEnd は季節表の直後のアドレス。季節7は大きさを持たないのでイベントリストの先頭までとする。
func (info Info) SeasonsEnd() uint16 { return info.YearlyStart }

// Layout は季節表をseasonStartから詰めて並べ、その直後にイベントリストを置く。
func (info *Info) Layout(seasonStart uint16, seasons [MaxSeasons]Season, eventBytes int) error {
	at := int(seasonStart)
	for i, s := range seasons {
		info.SeasonStart[i] = uint16(at)
		size := s.Size()
		if i < MaxSeasons-1 {
			if size > 0xff {
				return fmt.Errorf("%w: season %d needs %d bytes", ErrScheduleNotSupported, i, size)
			}
			info.SeasonSize[i] = uint8(size)
		}
		at += size
	}
	if at+eventBytes > 0x10000 {
		return fmt.Errorf("%w: calendar ends beyond %04x", ErrScheduleNotSupported, 0xffff)
	}
	info.YearlyStart = uint16(at)
	info.YearlySize = uint16(eventBytes)
	return nil
}
