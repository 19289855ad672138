// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>

// Package register はメーターの基本ページをアドレス指定で読み書きする。
// 応答コードはここでエラーに変換する。
package register

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ak1211/scsmeter/internal/profile"
	"github.com/ak1211/scsmeter/internal/scs"
)

var ErrAddressRange = errors.New("address outside meter memory")

// フラグを立てる値と下ろす値
const (
	FlagSet   byte = 0x01
	FlagClear byte = 0x00
)

// Reader は基本ページの読み出し。
type Reader interface {
	ReadAt(address uint16, length int) ([]byte, error)
}

// Registers はトランスポート越しの基本ページ。
type Registers struct {
	transport scs.Transport
	logger    *slog.Logger
	identity  *scs.Identity
}

var _ Reader = (*Registers)(nil)

func New(t scs.Transport, logger *slog.Logger) *Registers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registers{transport: t, logger: logger}
}

// SetIdentity は以後の読み書きをメーターのメモリ範囲に制限する。
func (r *Registers) SetIdentity(id scs.Identity) { r.identity = &id }

// ClearIdentity は範囲の制限を外す。
func (r *Registers) ClearIdentity() { r.identity = nil }

func (r *Registers) checkRange(address uint16, length int) error {
	if length <= 0 || int(address)+length > 0x10000 {
		return fmt.Errorf("%w: %04x+%d", ErrAddressRange, address, length)
	}
	if r.identity != nil && !r.identity.Contains(address, length) {
		return fmt.Errorf("%w: %04x+%d not in [%04x,%04x]",
			ErrAddressRange, address, length, r.identity.MemoryStart, r.identity.MemoryEnd)
	}
	return nil
}

// ReadAt は最大アップロード長ごとに分けて読み出す。
func (r *Registers) ReadAt(address uint16, length int) ([]byte, error) {
	if err := r.checkRange(address, length); err != nil {
		return nil, err
	}
	chunk := r.transport.MaxUploadSize()
	if chunk <= 0 {
		chunk = length
	}
	buf := make([]byte, 0, length)
	for off := 0; off < length; off += chunk {
		n := min(chunk, length-off)
		at := address + uint16(off)
		ack, data, err := r.transport.Upload(at, uint16(n))
		if err := scs.Check(fmt.Sprintf("Upload %04x", at), ack, err); err != nil {
			return nil, err
		}
		if len(data) != n {
			return nil, fmt.Errorf("%w: Upload %04x returned %d of %d bytes", scs.ErrProtocol, at, len(data), n)
		}
		buf = append(buf, data...)
	}
	return buf, nil
}

// Read はフィールド全体を読み出す。
func (r *Registers) Read(f profile.Field) ([]byte, error) {
	return r.ReadAt(f.Address, int(f.Length))
}

// WriteAt は最大ダウンロード長ごとに分けて書き込む。端数は最後に別に書く。
func (r *Registers) WriteAt(address uint16, data []byte) error {
	if err := r.checkRange(address, len(data)); err != nil {
		return err
	}
	chunk := r.transport.MaxDownloadSize()
	if chunk <= 0 {
		chunk = len(data)
	}
	for off := 0; off < len(data); off += chunk {
		n := min(chunk, len(data)-off)
		at := address + uint16(off)
		ack, err := r.transport.Download(at, data[off:off+n])
		if err := scs.Check(fmt.Sprintf("Download %04x", at), ack, err); err != nil {
			return err
		}
	}
	return nil
}

// Write はフィールドに書き込む。長さはフィールドと一致しなければならない。
func (r *Registers) Write(f profile.Field, data []byte) error {
	if len(data) != int(f.Length) {
		return fmt.Errorf("%w: %d bytes for field %v", ErrAddressRange, len(data), f)
	}
	return r.WriteAt(f.Address, data)
}

// SetFlag はフラグを立てる。
func (r *Registers) SetFlag(f profile.Field) error {
	return r.writeFlag(f, FlagSet)
}

// ClearFlag はフラグを下ろす。
func (r *Registers) ClearFlag(f profile.Field) error {
	return r.writeFlag(f, FlagClear)
}

func (r *Registers) writeFlag(f profile.Field, v byte) error {
	if f.Length == 0 {
		return fmt.Errorf("%w: empty flag field %v", ErrAddressRange, f)
	}
	data := make([]byte, f.Length)
	data[len(data)-1] = v
	err := r.Write(f, data)
	if err != nil {
		r.logger.Debug("writeFlag", slog.String("field", f.String()), "err", err)
	}
	return err
}
