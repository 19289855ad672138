// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package scs

import (
	"errors"
	"fmt"
)

// AckCode はひとつの交換に対するメーターの応答。
type AckCode byte

const (
	NoResponse AckCode = 0x00
	Ack        AckCode = 0x06
	Nak        AckCode = 0x15
	Cancel     AckCode = 0x18
)

func (a AckCode) String() string {
	switch a {
	case Ack:
		return "ACK"
	case Nak:
		return "NAK"
	case Cancel:
		return "CAN"
	case NoResponse:
		return "NoResponse"
	default:
		return fmt.Sprintf("AckCode(%#02x)", byte(a))
	}
}

var (
	ErrProtocol = errors.New("protocol error")
	ErrSecurity = errors.New("security error")
	ErrTimeout  = errors.New("no response from meter")
)

// Err は応答コードをエラーに変換する。Ackならnil。
func (a AckCode) Err() error {
	switch a {
	case Ack:
		return nil
	case Cancel:
		return fmt.Errorf("%w: %v", ErrSecurity, a)
	case NoResponse:
		return ErrTimeout
	default:
		return fmt.Errorf("%w: %v", ErrProtocol, a)
	}
}

// Check は応答コードとトランスポートのエラーをひとつのエラーにまとめる。
func Check(op string, ack AckCode, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := ack.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
