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

func date(y int, m time.Month, d int) codec.Date {
	return codec.Date{Year: y, Month: m, Day: d}
}

func TestEncodeEvent_Layout(t *testing.T) {
	cases := []struct {
		event Event
		want  uint16
	}{
		{StartYear(2027), 0x8027},
		{SeasonSelect(3, date(2027, time.June, 1), true), 0x0c00 | 0x0200 | 6<<5 | 1},
		{HolidaySelect(date(2027, time.December, 25)), 0x2000 | 12<<5 | 25},
		{DSTChange(Advance, date(2027, time.March, 14)), 0x4000 | 3<<5 | 14},
		{DSTChange(Retard, date(2027, time.November, 7)), 0x6000 | 11<<5 | 7},
		{CalendarEnd(), 0xffff},
	}
	for _, c := range cases {
		w, err := EncodeEvent(c.event)
		require.NoError(t, err, c.event.String())
		assert.Equal(t, c.want, w, c.event.String())

		back := DecodeEvent(w)
		back.Raw = 0
		assert.Equal(t, c.event, back)
	}
}

func TestEncodeEvent_OutOfRange(t *testing.T) {
	for _, e := range []Event{
		StartYear(1979),
		StartYear(2080),
		SeasonSelect(8, date(2027, time.January, 1), false),
		HolidaySelect(codec.Date{Year: 2027, Month: time.February, Day: 30}),
		{Kind: EventKind(99)},
	} {
		_, err := EncodeEvent(e)
		assert.ErrorIs(t, err, codec.ErrOutOfRange, e.String())
	}
}

func TestDecodeEvent_Unknown(t *testing.T) {
	for _, w := range []uint16{
		0x0000,              // 月0
		0x8f27,              // StartYearの余分なビット
		0x80aa,              // BCDでない年
		0x2200 | 1<<5 | 1,   // 休日の余分なビット
		0xa000 | 1<<5 | 1,   // 未定義の種別
		0x0000 | 13<<5 | 1,  // 13月
		0x0000 | 4<<5 | 31,  // 4月31日
	} {
		e := DecodeEvent(w)
		assert.Equal(t, KindUnknown, e.Kind, "%04x", w)
		assert.Equal(t, w, e.Raw)
	}
}

func TestEvents_ByteSwapped(t *testing.T) {
	events := []Event{StartYear(2027), HolidaySelect(date(2027, time.July, 4)), CalendarEnd()}
	b, err := EncodeEvents(events)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x27, 0x80, 0xe4, 0x20, 0xff, 0xff}, b)

	// CalendarEndより後は読まない
	decoded := DecodeEvents(append(b, 0x27, 0x80))
	require.Len(t, decoded, 3)
	assert.Equal(t, KindCalendarEnd, decoded[2].Kind)
	assert.Equal(t, 2027, decoded[0].Year)
	assert.Equal(t, time.July, decoded[1].Month)
}

func TestSortYear(t *testing.T) {
	events := []Event{
		HolidaySelect(date(2027, time.December, 25)),
		DSTChange(Advance, date(2027, time.March, 14)),
		HolidaySelect(date(2027, time.March, 14)),
		SeasonSelect(1, date(2027, time.March, 14), false),
	}
	SortYear(events)
	assert.Equal(t, KindSeasonSelect, events[0].Kind)
	assert.Equal(t, KindHolidaySelect, events[1].Kind)
	assert.Equal(t, KindDSTChange, events[2].Kind)
	assert.Equal(t, time.December, events[3].Month)
}

func TestValidate(t *testing.T) {
	good := []Event{
		StartYear(2027),
		SeasonSelect(0, date(2027, time.January, 1), false),
		HolidaySelect(date(2027, time.July, 4)),
		StartYear(2028),
		CalendarEnd(),
	}
	require.NoError(t, Validate(good))

	bad := map[string][]Event{
		"empty":          nil,
		"no start year":  {HolidaySelect(date(2027, time.July, 4)), CalendarEnd()},
		"no end":         good[:4],
		"two ends":       {StartYear(2027), CalendarEnd(), StartYear(2028), CalendarEnd()},
		"year backwards": {StartYear(2028), StartYear(2027), CalendarEnd()},
		"out of order": {
			StartYear(2027),
			HolidaySelect(date(2027, time.July, 4)),
			HolidaySelect(date(2027, time.January, 1)),
			CalendarEnd(),
		},
		"feb 29 in common year": {StartYear(2027), HolidaySelect(codec.Date{Month: time.February, Day: 29}), CalendarEnd()},
		"unknown":               {StartYear(2027), DecodeEvent(0x0000), CalendarEnd()},
	}
	for name, events := range bad {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, Validate(events), ErrMalformedCalendar)
		})
	}
}
