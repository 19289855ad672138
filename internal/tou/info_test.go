// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package tou

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ak1211/scsmeter/internal/codec"
)

func TestInfo_RoundTrip(t *testing.T) {
	info := Info{
		ScheduleID:  1234,
		Expiration:  date(2030, time.December, 31),
		TypicalWeek: [7]DayType{Normal2, Normal1, Normal1, Normal1, Normal1, Normal3, Normal2},
		YearlyStart: 0x023c,
		YearlySize:  32,
		SeasonStart: [MaxSeasons]uint16{0x0200, 0x021e, 0x023c, 0x023c, 0x023c, 0x023c, 0x023c, 0x023c},
		SeasonSize:  [MaxSeasons - 1]uint8{30, 30},
	}
	b, err := info.Encode()
	require.NoError(t, err)
	require.Len(t, b, InfoBytes)
	assert.Equal(t, []byte{0x12, 0x34}, b[0:2])
	assert.Equal(t, []byte{0x30, 0x12, 0x31}, b[2:5])
	// 日曜が下位2ビット
	assert.Equal(t, []byte{0x18, 0x01}, b[5:7])
	assert.Equal(t, []byte{0x02, 0x3c, 0x00, 0x20}, b[7:11])
	assert.Equal(t, byte(30), b[27])

	back, err := DecodeInfo(b)
	require.NoError(t, err)
	assert.Equal(t, info, back)
	assert.True(t, back.TOUConfigured())
}

func TestDecodeInfo_Errors(t *testing.T) {
	_, err := DecodeInfo(make([]byte, InfoBytes-1))
	assert.ErrorIs(t, err, codec.ErrOutOfRange)

	b := make([]byte, InfoBytes)
	b[0] = 0x1a
	_, err = DecodeInfo(b)
	assert.ErrorIs(t, err, codec.ErrInvalidDigit)

	info, err := DecodeInfo(make([]byte, InfoBytes))
	require.NoError(t, err)
	assert.False(t, info.TOUConfigured())
	assert.True(t, info.Expiration.IsZero())
}

func TestInfo_Layout(t *testing.T) {
	var seasons [MaxSeasons]Season
	seasons[0] = Season{Switchpoints: []Switchpoint{{DayType: Normal1}}}
	seasons[7] = Season{Switchpoints: []Switchpoint{{DayType: Normal1}, {DayType: Holiday}}}
	var info Info
	require.NoError(t, info.Layout(0x0300, seasons, 10))
	assert.Equal(t, uint8(6), info.SeasonSize[0])
	assert.Equal(t, uint16(0x0306), info.SeasonStart[1])
	assert.Equal(t, uint16(0x0306), info.SeasonStart[7])
	assert.Equal(t, uint16(0x0306+9), info.YearlyStart)
	assert.Equal(t, info.YearlyStart, info.SeasonsEnd())

	big := make([]Switchpoint, 90)
	seasons[1] = Season{Switchpoints: big}
	assert.ErrorIs(t, info.Layout(0x0300, seasons, 10), ErrScheduleNotSupported)
}

func TestSwitchpoint_RoundTrip(t *testing.T) {
	cases := []struct {
		sp   Switchpoint
		want []byte
	}{
		{Switchpoint{DayType: Normal1, Kind: Rate, ID: 0}, []byte{0x00, 0x00, 0x00}},
		{Switchpoint{DayType: Normal2, Hour: 7, Minute: 30, Kind: Rate, ID: 1}, []byte{0x47, 30, 0x01}},
		{Switchpoint{DayType: Holiday, Hour: 18, Kind: Output, ID: 0x05}, []byte{0xf2, 0x00, 0x05}},
		{EndOfSeasonMarker(), []byte{0xff, 0xff, 0xff}},
	}
	for _, c := range cases {
		b, err := EncodeSwitchpoint(c.sp)
		require.NoError(t, err)
		assert.Equal(t, c.want, b, c.sp.String())
		back, err := DecodeSwitchpoint(b)
		require.NoError(t, err)
		assert.Equal(t, c.sp, back)
	}

	_, err := EncodeSwitchpoint(Switchpoint{Hour: 24})
	assert.ErrorIs(t, err, codec.ErrOutOfRange)
	_, err = DecodeSwitchpoint([]byte{0x18, 0x00, 0x00})
	assert.ErrorIs(t, err, codec.ErrOutOfRange)
}

func TestSeason_EncodeDecode(t *testing.T) {
	s := Season{Switchpoints: []Switchpoint{
		{DayType: Normal1, Kind: Rate, ID: 0},
		{DayType: Normal1, Hour: 7, Kind: Rate, ID: 1},
	}}
	b, err := s.Encode()
	require.NoError(t, err)
	assert.Len(t, b, s.Size())

	// 後ろに別の季節が続いていても終端で止まる
	back, err := DecodeSeason(append(b, 0x01, 0x02, 0x03))
	require.NoError(t, err)
	assert.Equal(t, s, back)

	_, err = DecodeSeason(b[:6])
	assert.ErrorIs(t, err, ErrMalformedCalendar)

	empty, err := Season{}.Encode()
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSeasonAt(t *testing.T) {
	events := []Event{
		StartYear(2027),
		SeasonSelect(1, date(2027, time.January, 1), false),
		SeasonSelect(0, date(2027, time.June, 1), false),
		StartYear(2028),
		SeasonSelect(1, date(2028, time.January, 1), false),
		CalendarEnd(),
	}
	s, ok := SeasonAt(events, date(2027, time.May, 31))
	require.True(t, ok)
	assert.Equal(t, 1, s)
	s, ok = SeasonAt(events, date(2027, time.June, 1))
	require.True(t, ok)
	assert.Equal(t, 0, s)
	s, ok = SeasonAt(events, date(2030, time.June, 1))
	require.True(t, ok)
	assert.Equal(t, 1, s)
	_, ok = SeasonAt(events, date(2026, time.June, 1))
	assert.False(t, ok)
}
