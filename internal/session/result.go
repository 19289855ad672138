// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package session

import (
	"errors"

	"github.com/ak1211/scsmeter/internal/schedule"
	"github.com/ak1211/scsmeter/internal/scs"
	"github.com/ak1211/scsmeter/internal/tou"
)

var (
	ErrCrossesInterval     = errors.New("clock adjustment crosses a load profile interval")
	ErrClockNotRunning     = errors.New("clock not running")
	ErrNotConfiguredForTOU = errors.New("meter not configured for TOU")
	ErrNotConfiguredForDST = errors.New("meter not configured for DST")
	ErrDeviceTypeMismatch  = errors.New("device type mismatch")
	ErrNotLoggedOn         = errors.New("not logged on")
)

// 暦の処理が返すエラー
var (
	ErrScheduleNotSupported = tou.ErrScheduleNotSupported
	ErrScheduleInvalid      = schedule.ErrScheduleInvalid
	ErrDSTDataMissing       = tou.ErrDSTDataMissing
	ErrDatesExpired         = tou.ErrDatesExpired
)

// Outcome は成功した書き換えの内容。
type Outcome int

const (
	Updated Outcome = iota
	// DSTファイルが渡されたがメーターのDSTは無効だった
	UpdatedConditional
	// 書き換える必要が無かった
	PreviouslyUpdated
)

func (o Outcome) String() string {
	switch o {
	case Updated:
		return "Updated"
	case UpdatedConditional:
		return "UpdatedConditional"
	case PreviouslyUpdated:
		return "PreviouslyUpdated"
	}
	return "Outcome(?)"
}

// Result は操作の結果の分類。
type Result int

const (
	Success Result = iota
	SecurityError
	ProtocolError
	IOTimeout
	CrossesInterval
	ClockNotRunning
	ScheduleNotSupported
	ScheduleInvalid
	DSTDataMissing
	DatesExpired
	NotConfiguredForTOU
	NotConfiguredForDST
	DeviceTypeMismatch
	NotLoggedOn
	Error
)

var resultNames = map[Result]string{
	Success:              "Success",
	SecurityError:        "SecurityError",
	ProtocolError:        "ProtocolError",
	IOTimeout:            "IOTimeout",
	CrossesInterval:      "CrossesInterval",
	ClockNotRunning:      "ClockNotRunning",
	ScheduleNotSupported: "ScheduleNotSupported",
	ScheduleInvalid:      "ScheduleInvalid",
	DSTDataMissing:       "DSTDataMissing",
	DatesExpired:         "DatesExpired",
	NotConfiguredForTOU:  "NotConfiguredForTOU",
	NotConfiguredForDST:  "NotConfiguredForDST",
	DeviceTypeMismatch:   "DeviceTypeMismatch",
	NotLoggedOn:          "NotLoggedOn",
	Error:                "Error",
}

func (r Result) String() string {
	if s, ok := resultNames[r]; ok {
		return s
	}
	return "Result(?)"
}

// 先に一致したものを採る
var resultOrder = []struct {
	err    error
	result Result
}{
	{ErrCrossesInterval, CrossesInterval},
	{ErrClockNotRunning, ClockNotRunning},
	{ErrNotConfiguredForTOU, NotConfiguredForTOU},
	{ErrNotConfiguredForDST, NotConfiguredForDST},
	{ErrDeviceTypeMismatch, DeviceTypeMismatch},
	{ErrNotLoggedOn, NotLoggedOn},
	{ErrScheduleNotSupported, ScheduleNotSupported},
	{ErrScheduleInvalid, ScheduleInvalid},
	{schedule.ErrDSTInvalid, ScheduleInvalid},
	{ErrDSTDataMissing, DSTDataMissing},
	{ErrDatesExpired, DatesExpired},
	{scs.ErrSecurity, SecurityError},
	{scs.ErrTimeout, IOTimeout},
	{scs.ErrProtocol, ProtocolError},
}

// ResultOf はエラーを結果の分類に変換する。nilはSuccess。
func ResultOf(err error) Result {
	if err == nil {
		return Success
	}
	for _, r := range resultOrder {
		if errors.Is(err, r.err) {
			return r.result
		}
	}
	return Error
}
