// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package scs

import (
	"encoding/binary"
	"io"
	"log/slog"

	"github.com/sigurn/crc16"
)

const (
	STX      byte = 0x02
	SyncByte byte = 0x55
)

// コマンドコード
const (
	CommandIdentify byte = 0x20
	CommandUpload   byte = 0x05
	CommandDownload byte = 0x06
	CommandPassword byte = 0x24
)

// identify応答のデータ部
const (
	UnitIDBytes       int = 8
	DeviceTypeBytes   int = 3
	IdentifyDataBytes int = UnitIDBytes + DeviceTypeBytes + 2 + 2
)

// パスワード欄の長さ(NUL埋め)
const PasswordBytes int = 8

// CRC-16/CCITT-FALSE
var crcTable = crc16.MakeTable(crc16.Params{
	Poly:   0x1021,
	Init:   0xffff,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x0000,
})

// チェックサム計算
func CalcChecksum(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// Frame は要求電文。STX, コマンド, データ, CRC(ビッグエンディアン)で送る。
type Frame struct {
	Command byte
	Data    []byte
}

func (f Frame) Encode() []byte {
	body := append([]byte{f.Command}, f.Data...)
	buf := append([]byte{STX}, body...)
	return binary.BigEndian.AppendUint16(buf, CalcChecksum(body))
}

func (f Frame) Write(w io.Writer) (int, error) {
	n, err := w.Write(f.Encode())
	if err != nil {
		slog.Error("Write", "err", err)
		return n, err
	}
	return n, nil
}

// identify要求
func CommandIdentifyFrame() Frame {
	return Frame{Command: CommandIdentify, Data: []byte{}}
}

// アップロード(メーターからの読み出し)要求
func CommandUploadFrame(address uint16, length uint16) Frame {
	data := binary.BigEndian.AppendUint16([]byte{}, address) // アドレス(2バイト)
	data = binary.BigEndian.AppendUint16(data, length)       // 長さ(2バイト)
	return Frame{Command: CommandUpload, Data: data}
}

// ダウンロード(メーターへの書き込み)要求
func CommandDownloadFrame(address uint16, payload []byte) Frame {
	data := binary.BigEndian.AppendUint16([]byte{}, address)         // アドレス(2バイト)
	data = binary.BigEndian.AppendUint16(data, uint16(len(payload))) // 長さ(2バイト)
	data = append(data, payload...)                                  // 書き込むデータ
	return Frame{Command: CommandDownload, Data: data}
}

// パスワード送信要求
func CommandPasswordFrame(secret string) Frame {
	data := make([]byte, PasswordBytes)
	copy(data, secret)
	return Frame{Command: CommandPassword, Data: data}
}

// identify応答のデータ部を解析する
func parseIdentity(data []byte) Identity {
	return Identity{
		UnitID:      string(data[0:UnitIDBytes]),
		DeviceType:  string(data[UnitIDBytes : UnitIDBytes+DeviceTypeBytes]),
		MemoryStart: binary.BigEndian.Uint16(data[UnitIDBytes+DeviceTypeBytes:]),
		MemoryEnd:   binary.BigEndian.Uint16(data[UnitIDBytes+DeviceTypeBytes+2:]),
	}
}

// EncodeIdentity はidentify応答のデータ部を作る。
func EncodeIdentity(id Identity) []byte {
	data := make([]byte, UnitIDBytes+DeviceTypeBytes)
	copy(data[:UnitIDBytes], id.UnitID)
	copy(data[UnitIDBytes:], id.DeviceType)
	data = binary.BigEndian.AppendUint16(data, id.MemoryStart)
	return binary.BigEndian.AppendUint16(data, id.MemoryEnd)
}

// EncodeResponseData はACKに続くデータ部(STX, データ, CRC)を作る。
func EncodeResponseData(data []byte) []byte {
	buf := append([]byte{STX}, data...)
	return binary.BigEndian.AppendUint16(buf, CalcChecksum(data))
}
