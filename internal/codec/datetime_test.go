// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortDateTime_CurrentYear(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	got, err := ShortDateTime([]byte{0x03, 0x14, 0x15, 0x09}, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 14, 15, 9, 0, 0, time.UTC), got)
}

func TestShortDateTime_FutureMeansLastYear(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	got, err := ShortDateTime([]byte{0x12, 0x24, 0x08, 0x00}, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 12, 24, 8, 0, 0, 0, time.UTC), got)
}

func TestShortDateTime_LeapDay(t *testing.T) {
	// 2027年に2月29日は無い
	now := time.Date(2027, 3, 5, 12, 0, 0, 0, time.UTC)
	got, err := ShortDateTime([]byte{0x02, 0x29, 0x10, 0x00}, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 10, 0, 0, 0, time.UTC), got)

	now = time.Date(2028, 3, 5, 12, 0, 0, 0, time.UTC)
	got, err = ShortDateTime([]byte{0x02, 0x29, 0x10, 0x00}, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2028, 2, 29, 10, 0, 0, 0, time.UTC), got)
}

func TestShortDateTime_Invalid(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	_, err := ShortDateTime([]byte{0x13, 0x01, 0x00, 0x00}, now)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = ShortDateTime([]byte{0x02, 0x30, 0x00, 0x00}, now)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = ShortDateTime([]byte{0x01, 0x01, 0x2a, 0x00}, now)
	assert.ErrorIs(t, err, ErrInvalidDigit)

	_, err = ShortDateTime([]byte{0x01, 0x01}, now)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestEncodeShortDateTime(t *testing.T) {
	b := EncodeShortDateTime(time.Date(2026, 7, 4, 23, 59, 0, 0, time.UTC))
	assert.Equal(t, []byte{0x07, 0x04, 0x23, 0x59}, b)
}

func TestLongDateTime_RoundTrip(t *testing.T) {
	for _, want := range []time.Time{
		time.Date(2026, 10, 15, 10, 7, 0, 0, time.UTC),
		time.Date(1999, 12, 31, 23, 59, 59, 0, time.UTC),
		time.Date(2000, 2, 29, 0, 0, 0, 0, time.UTC),
	} {
		b, err := EncodeLongDateTime(want)
		require.NoError(t, err)
		got, err := LongDateTime(b, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestLongDateTime_Layout(t *testing.T) {
	b, err := EncodeLongDateTime(time.Date(2026, 10, 15, 10, 7, 30, 0, time.UTC))
	require.NoError(t, err)
	// 2026-10-15は木曜日
	assert.Equal(t, []byte{0x26, 0x10, 0x15, 0x10, 0x07, 0x30, 0x04}, b)
}

func TestLongDateTime_Century(t *testing.T) {
	got, err := LongDateTime([]byte{0x85, 0x01, 0x01, 0x00, 0x00, 0x00, 0x02}, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 1985, got.Year())

	got, err = LongDateTime([]byte{0x79, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00}, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 2079, got.Year())
}

func TestLongDateTime_Invalid(t *testing.T) {
	_, err := LongDateTime([]byte{0x26, 0x02, 0x29, 0x00, 0x00, 0x00, 0x00}, time.UTC)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = LongDateTime([]byte{0x26, 0x01, 0x01, 0x00, 0x60, 0x00, 0x00}, time.UTC)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = LongDateTime([]byte{0x26, 0x01, 0x01, 0x00, 0x00, 0x00, 0x07}, time.UTC)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = LongDateTime([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, time.UTC)
	assert.ErrorIs(t, err, ErrInvalidDigit)

	_, err = EncodeLongDateTime(time.Date(2080, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrOutOfRange)
}
