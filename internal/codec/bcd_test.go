// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBCDToInt(t *testing.T) {
	n, err := BCDToInt([]byte{0x12, 0x34})
	require.NoError(t, err)
	assert.Equal(t, uint32(1234), n)

	n, err = BCDToInt([]byte{0x00, 0x00, 0x07})
	require.NoError(t, err)
	assert.Equal(t, uint32(7), n)
}

func TestBCDToInt_InvalidDigit(t *testing.T) {
	_, err := BCDToInt([]byte{0x12, 0x3a})
	assert.ErrorIs(t, err, ErrInvalidDigit)

	_, err = BCDToInt([]byte{0xf0})
	assert.ErrorIs(t, err, ErrInvalidDigit)
}

func TestBCDToInt_Overflow(t *testing.T) {
	_, err := BCDToInt([]byte{0x99, 0x99, 0x99, 0x99, 0x99})
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestIntToBCD_RoundTrip(t *testing.T) {
	for _, n := range []uint32{0, 1, 9, 10, 99, 100, 1234, 56789, 999999, 12345678, 99999999} {
		b, err := IntToBCD(n, 4)
		require.NoError(t, err, "n=%d", n)
		got, err := BCDToInt(b)
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}
}

func TestIntToBCD_Layout(t *testing.T) {
	b, err := IntToBCD(1234, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x12, 0x34}, b)
}

func TestIntToBCD_DoesNotFit(t *testing.T) {
	_, err := IntToBCD(100, 1)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = IntToBCD(1, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestByteBCD(t *testing.T) {
	b, err := ByteToBCD(59)
	require.NoError(t, err)
	assert.Equal(t, byte(0x59), b)

	v, err := BCDToByte(0x59)
	require.NoError(t, err)
	assert.Equal(t, 59, v)

	_, err = ByteToBCD(100)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = BCDToByte(0x5c)
	assert.ErrorIs(t, err, ErrInvalidDigit)
}

func TestFloatingBCD_RoundTrip(t *testing.T) {
	for _, v := range []float64{0, 1, 1234.5, 0.125, 9999999, 42.42} {
		b, err := FloatToFloatingBCD(v, 4)
		require.NoError(t, err, "v=%v", v)
		got, err := FloatingBCDToFloat(b)
		require.NoError(t, err)
		assert.InDelta(t, v, got, 1e-6, "v=%v", v)
	}
}

func TestFloatingBCDToFloat_Layout(t *testing.T) {
	// 仮数 0012345, 小数1桁
	v, err := FloatingBCDToFloat([]byte{0x00, 0x12, 0x34, 0x51})
	require.NoError(t, err)
	assert.InDelta(t, 1234.5, v, 1e-9)
}

func TestFloatingBCD_Errors(t *testing.T) {
	_, err := FloatToFloatingBCD(-1, 4)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = FloatToFloatingBCD(1e8, 4)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = FloatingBCDToFloat(nil)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = FloatingBCDToFloat([]byte{0x1e, 0x00})
	assert.ErrorIs(t, err, ErrInvalidDigit)
}

func TestFixedBCD(t *testing.T) {
	v, err := FixedBCDToFloat([]byte{0x01, 0x23, 0x45}, 2)
	require.NoError(t, err)
	assert.InDelta(t, 123.45, v, 1e-9)

	b, err := FloatToFixedBCD(123.45, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x23, 0x45}, b)

	_, err = FixedBCDToFloat([]byte{0x01}, 10)
	assert.ErrorIs(t, err, ErrOutOfRange)
}
