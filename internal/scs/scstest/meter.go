// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>

// Package scstest はメモリ上の基本ページを持つ模擬メーターを提供する。
package scstest

import (
	"github.com/ak1211/scsmeter/internal/scs"
)

// Write はメーターが受け取った書き込み。
type Write struct {
	Address uint16
	Data    []byte
}

// Meter はscs.Transportを満たす模擬メーター。
type Meter struct {
	ID        scs.Identity
	Basepage  []byte
	Passwords map[string]bool

	MaxUpload   int
	MaxDownload int

	// 応答の差し替え
	WakeUpAck    scs.AckCode
	IdentifyAck  scs.AckCode
	PasswordErr  error
	UploadAck    map[uint16]scs.AckCode
	DownloadAck  map[uint16]scs.AckCode
	DownloadErr  map[uint16]error
	RequireLogon bool

	// 書き込みを受けたときの副作用
	OnDownload func(m *Meter, address uint16, data []byte)

	WakeUps   int
	Identifys int
	Attempts  []string
	Uploads   []Write
	Downloads []Write

	identified bool
	secured    bool
}

var (
	_ scs.Transport     = (*Meter)(nil)
	_ scs.IdentityCache = (*Meter)(nil)
)

// NewMeter は0埋めされた基本ページを持つメーターを作る。
func NewMeter(id scs.Identity, passwords ...string) *Meter {
	m := &Meter{
		ID:          id,
		Basepage:    make([]byte, int(id.MemoryEnd)+1),
		Passwords:   map[string]bool{},
		MaxUpload:   scs.DefaultMaxUploadSize,
		MaxDownload: scs.DefaultMaxDownloadSize,
		WakeUpAck:   scs.Ack,
		IdentifyAck: scs.Ack,
		UploadAck:   map[uint16]scs.AckCode{},
		DownloadAck: map[uint16]scs.AckCode{},
		DownloadErr: map[uint16]error{},
	}
	for _, p := range passwords {
		m.Passwords[p] = true
	}
	return m
}

func (m *Meter) MaxUploadSize() int   { return m.MaxUpload }
func (m *Meter) MaxDownloadSize() int { return m.MaxDownload }

func (m *Meter) LastIdentity() (scs.Identity, bool) {
	return m.ID, m.identified
}

// Secured はパスワードが受理されているか返す。
func (m *Meter) Secured() bool { return m.secured }

func (m *Meter) WakeUp() (scs.AckCode, error) {
	m.WakeUps++
	m.identified = false
	m.secured = false
	return m.WakeUpAck, nil
}

func (m *Meter) Identify() (scs.AckCode, scs.Identity, error) {
	m.Identifys++
	if m.IdentifyAck != scs.Ack {
		return m.IdentifyAck, scs.Identity{}, nil
	}
	m.identified = true
	return scs.Ack, m.ID, nil
}

func (m *Meter) SendPassword(secret string) (scs.AckCode, error) {
	m.Attempts = append(m.Attempts, secret)
	if m.PasswordErr != nil {
		return scs.NoResponse, m.PasswordErr
	}
	if m.Passwords[secret] {
		m.secured = true
		return scs.Ack, nil
	}
	return scs.Nak, nil
}

func (m *Meter) Upload(address uint16, length uint16) (scs.AckCode, []byte, error) {
	m.Uploads = append(m.Uploads, Write{Address: address, Data: make([]byte, length)})
	if ack, ok := m.UploadAck[address]; ok && ack != scs.Ack {
		return ack, nil, nil
	}
	end := int(address) + int(length)
	if end > len(m.Basepage) {
		return scs.Nak, nil, nil
	}
	data := make([]byte, length)
	copy(data, m.Basepage[address:end])
	return scs.Ack, data, nil
}

func (m *Meter) Download(address uint16, data []byte) (scs.AckCode, error) {
	if err, ok := m.DownloadErr[address]; ok && err != nil {
		return scs.NoResponse, err
	}
	if ack, ok := m.DownloadAck[address]; ok && ack != scs.Ack {
		return ack, nil
	}
	if m.RequireLogon && !m.secured {
		return scs.Cancel, nil
	}
	end := int(address) + len(data)
	if end > len(m.Basepage) {
		return scs.Nak, nil
	}
	m.Downloads = append(m.Downloads, Write{Address: address, Data: append([]byte{}, data...)})
	copy(m.Basepage[address:end], data)
	if m.OnDownload != nil {
		m.OnDownload(m, address, data)
	}
	return scs.Ack, nil
}

// Poke は基本ページに直接書く。
func (m *Meter) Poke(address uint16, data []byte) {
	copy(m.Basepage[address:], data)
}

// Peek は基本ページを直接読む。
func (m *Meter) Peek(address uint16, length int) []byte {
	return append([]byte{}, m.Basepage[address:int(address)+length]...)
}

// DownloadsTo は指定アドレスへの書き込みを順に返す。
func (m *Meter) DownloadsTo(address uint16) []Write {
	var ws []Write
	for _, w := range m.Downloads {
		if w.Address == address {
			ws = append(ws, w)
		}
	}
	return ws
}

// UploadsFrom は指定アドレスからの読み出し回数を返す。
func (m *Meter) UploadsFrom(address uint16) int {
	n := 0
	for _, u := range m.Uploads {
		if u.Address == address {
			n++
		}
	}
	return n
}
