// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>

// Package codec はSCSメーターが使うBCDと日時のバイナリ表現を扱う。
// 入力は物理デバイスから来るので、どの関数も不正な入力でpanicしない。
package codec

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidDigit = errors.New("invalid BCD digit")
	ErrOutOfRange   = errors.New("value out of range")
)

// ニブル列に展開する(上位ニブルが先)
func nibbles(b []byte) ([]uint8, error) {
	ns := make([]uint8, 0, 2*len(b))
	for i, v := range b {
		hi, lo := v>>4, v&0x0f
		if hi > 9 || lo > 9 {
			return nil, fmt.Errorf("%w: byte[%d]=%#02x", ErrInvalidDigit, i, v)
		}
		ns = append(ns, hi, lo)
	}
	return ns, nil
}

// BCDToInt は詰め込みBCDを整数にする。
func BCDToInt(b []byte) (uint32, error) {
	ns, err := nibbles(b)
	if err != nil {
		return 0, err
	}
	var acc uint64
	for _, n := range ns {
		acc = acc*10 + uint64(n)
		if acc > math.MaxUint32 {
			return 0, fmt.Errorf("%w: %d digits", ErrOutOfRange, len(ns))
		}
	}
	return uint32(acc), nil
}

// IntToBCD は整数をlengthバイトの詰め込みBCDにする。
func IntToBCD(value uint32, length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: length %d", ErrOutOfRange, length)
	}
	buf := make([]byte, length)
	v := value
	for i := length - 1; i >= 0; i-- {
		lo := v % 10
		v /= 10
		hi := v % 10
		v /= 10
		buf[i] = byte(hi<<4 | lo)
	}
	if v != 0 {
		return nil, fmt.Errorf("%w: %d does not fit in %d bytes", ErrOutOfRange, value, length)
	}
	return buf, nil
}

// BCDToByte は1バイト(2桁)のBCDを値にする。
func BCDToByte(b byte) (int, error) {
	hi, lo := b>>4, b&0x0f
	if hi > 9 || lo > 9 {
		return 0, fmt.Errorf("%w: %#02x", ErrInvalidDigit, b)
	}
	return int(hi)*10 + int(lo), nil
}

// ByteToBCD は0～99の値を1バイトのBCDにする。
func ByteToBCD(v int) (byte, error) {
	if v < 0 || v > 99 {
		return 0, fmt.Errorf("%w: %d", ErrOutOfRange, v)
	}
	return byte((v/10)<<4 | v%10), nil
}

// FloatingBCDToFloat は浮動小数点BCDを実数にする。
// 最終バイトの下位ニブルが小数点以下の桁数で、残りの 2*len-1 桁が仮数。
func FloatingBCDToFloat(b []byte) (float64, error) {
	if len(b) == 0 || len(b) > 8 {
		return 0, fmt.Errorf("%w: length %d", ErrOutOfRange, len(b))
	}
	ns, err := nibbles(b)
	if err != nil {
		return 0, err
	}
	var mantissa uint64
	for _, n := range ns[:len(ns)-1] {
		mantissa = mantissa*10 + uint64(n)
	}
	exponent := int(ns[len(ns)-1])
	return float64(mantissa) / math.Pow10(exponent), nil
}

// FloatToFloatingBCD は実数を浮動小数点BCDにする。
// 仮数に収まる範囲でもっとも多く小数桁を残す指数を選ぶ。
func FloatToFloatingBCD(v float64, length int) ([]byte, error) {
	if length <= 0 || length > 8 {
		return nil, fmt.Errorf("%w: length %d", ErrOutOfRange, length)
	}
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: %v", ErrOutOfRange, v)
	}
	limit := math.Pow10(2*length - 1)
	for exponent := 9; exponent >= 0; exponent-- {
		m := math.Round(v * math.Pow10(exponent))
		if m >= limit {
			continue
		}
		ns := make([]uint8, 2*length)
		ns[len(ns)-1] = uint8(exponent)
		mantissa := uint64(m)
		for i := len(ns) - 2; i >= 0; i-- {
			ns[i] = uint8(mantissa % 10)
			mantissa /= 10
		}
		buf := make([]byte, length)
		for i := range buf {
			buf[i] = ns[2*i]<<4 | ns[2*i+1]
		}
		return buf, nil
	}
	return nil, fmt.Errorf("%w: %v does not fit in %d bytes", ErrOutOfRange, v, length)
}

// FixedBCDToFloat は小数点位置が固定されたBCDを実数にする。
func FixedBCDToFloat(b []byte, decimals int) (float64, error) {
	if decimals < 0 || decimals > 9 {
		return 0, fmt.Errorf("%w: decimals %d", ErrOutOfRange, decimals)
	}
	n, err := BCDToInt(b)
	if err != nil {
		return 0, err
	}
	return float64(n) / math.Pow10(decimals), nil
}

// FloatToFixedBCD は実数を小数点位置固定のBCDにする。
func FloatToFixedBCD(v float64, length int, decimals int) ([]byte, error) {
	if decimals < 0 || decimals > 9 || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: %v (decimals %d)", ErrOutOfRange, v, decimals)
	}
	m := math.Round(v * math.Pow10(decimals))
	if m > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %v", ErrOutOfRange, v)
	}
	return IntToBCD(uint32(m), length)
}
