// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package scs

// Identity はidentifyコマンドで得られるメーターの情報。
type Identity struct {
	UnitID      string
	DeviceType  string
	MemoryStart uint16
	MemoryEnd   uint16
}

// Contains はアドレス範囲がメモリ空間に収まるか調べる。
func (id Identity) Contains(address uint16, length int) bool {
	end := int(address) + length
	return length > 0 && id.MemoryStart <= address && end <= int(id.MemoryEnd)
}

// Transport は半二重シリアル回線上のSCSレジスタアクセス。
// どの呼び出しも応答かタイムアウトまでブロックする。
// errorは回線そのものの失敗で、メーターの応答はAckCodeで返す。
type Transport interface {
	WakeUp() (AckCode, error)
	Identify() (AckCode, Identity, error)
	SendPassword(secret string) (AckCode, error)
	Upload(address uint16, length uint16) (AckCode, []byte, error)
	Download(address uint16, data []byte) (AckCode, error)
	MaxUploadSize() int
	MaxDownloadSize() int
}

// IdentityCache は識別済みのメーターを覚えているトランスポート。
type IdentityCache interface {
	LastIdentity() (Identity, bool)
}
