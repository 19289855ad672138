// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package register

import (
	"bytes"
	"fmt"

	"github.com/ak1211/scsmeter/internal/codec"
	"github.com/ak1211/scsmeter/internal/profile"
	"github.com/ak1211/scsmeter/internal/scs"
)

// Cell はひとつのレジスタの復号済みの値を覚えておく。
// 復号に成功した値だけが有効になる。
type Cell[T any] struct {
	value T
	valid bool
}

// Valid はキャッシュされた値があるか返す。
func (c *Cell[T]) Valid() bool { return c.valid }

// Flush は値を無効にして、次の読み出しでメーターから読み直させる。
func (c *Cell[T]) Flush() {
	var zero T
	c.value = zero
	c.valid = false
}

// GetOrRead は有効な値があればそのまま返し、無ければ読み出して復号する。
func (c *Cell[T]) GetOrRead(r Reader, address uint16, length int, decode func([]byte) (T, error)) (T, error) {
	if c.valid {
		return c.value, nil
	}
	var zero T
	data, err := r.ReadAt(address, length)
	if err != nil {
		return zero, err
	}
	v, err := decode(data)
	if err != nil {
		return zero, fmt.Errorf("%w: decode %04x+%d: %w", scs.ErrProtocol, address, length, err)
	}
	c.value = v
	c.valid = true
	return v, nil
}

// Get はフィールドを指定してGetOrReadする。
func (c *Cell[T]) Get(r Reader, f profile.Field, decode func([]byte) (T, error)) (T, error) {
	return c.GetOrRead(r, f.Address, int(f.Length), decode)
}

// Flusher はFlushできるもの。
type Flusher interface {
	Flush()
}

// FlushAll はまとめて無効にする。
func FlushAll(fs ...Flusher) {
	for _, f := range fs {
		f.Flush()
	}
}

// よく使う復号関数

// DecodeFlag は0以外を真とする。
func DecodeFlag(b []byte) (bool, error) {
	for _, v := range b {
		if v != 0 {
			return true, nil
		}
	}
	return false, nil
}

// DecodeBCD は詰め込みBCDの整数。
func DecodeBCD(b []byte) (uint32, error) {
	return codec.BCDToInt(b)
}

// DecodeASCII は末尾のNULと空白を除いた文字列。
func DecodeASCII(b []byte) (string, error) {
	return string(bytes.TrimRight(b, "\x00 ")), nil
}

// DecodeByte は先頭1バイトの値。
func DecodeByte(b []byte) (uint8, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("%w: empty register", codec.ErrOutOfRange)
	}
	return b[0], nil
}
