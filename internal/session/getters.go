// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/ak1211/scsmeter/internal/codec"
	"github.com/ak1211/scsmeter/internal/register"
	"github.com/ak1211/scsmeter/internal/tou"
)

// エラーレジスタのビットの名前(バイト0のビット0から)
var errorFlagNames = []string{
	"LowBattery",
	"ClockError",
	"ROMChecksum",
	"RAMFailure",
	"EEPROMFailure",
	"PowerDown",
	"ReverseRotation",
	"DemandOverload",
}

// decodeErrors は立っているビットの名前を返す。
func decodeErrors(b []byte) ([]string, error) {
	var list []string
	for i, v := range b {
		for bit := 0; bit < 8; bit++ {
			if v&(1<<bit) == 0 {
				continue
			}
			n := 8*i + bit
			if n < len(errorFlagNames) {
				list = append(list, errorFlagNames[n])
			} else {
				list = append(list, fmt.Sprintf("Error%d", n))
			}
		}
	}
	return list, nil
}

// decodeVersion はバージョン番号のバイト列を "3.12" の形にする。
func decodeVersion(b []byte) (string, error) {
	parts := make([]string, len(b))
	for i, v := range b {
		if i == 0 {
			parts[i] = fmt.Sprint(v)
		} else {
			parts[i] = fmt.Sprintf("%02d", v)
		}
	}
	return strings.Join(parts, "."), nil
}

func (s *Session) UnitID() string { return s.identity.UnitID }

func (s *Session) ProgramID() (uint32, error) {
	if err := s.requireIdentified("ProgramID"); err != nil {
		return 0, err
	}
	return s.cache.programID.Get(s.regs, s.profile.ProgramID, register.DecodeBCD)
}

func (s *Session) SerialNumber() (string, error) {
	if err := s.requireIdentified("SerialNumber"); err != nil {
		return "", err
	}
	return s.cache.serialNumber.Get(s.regs, s.profile.SerialNumber, register.DecodeASCII)
}

func (s *Session) FirmwareVersion() (string, error) {
	if err := s.requireIdentified("FirmwareVersion"); err != nil {
		return "", err
	}
	return s.cache.firmwareVersion.Get(s.regs, s.profile.FirmwareVersion, decodeVersion)
}

func (s *Session) SoftwareVersion() (string, error) {
	if err := s.requireIdentified("SoftwareVersion"); err != nil {
		return "", err
	}
	return s.cache.softwareVersion.Get(s.regs, s.profile.SoftwareVersion, decodeVersion)
}

// Errors はメーターが報告しているエラーの一覧。毎回読む。
func (s *Session) Errors() ([]string, error) {
	if err := s.requireIdentified("Errors"); err != nil {
		return nil, err
	}
	var cell register.Cell[[]string]
	return cell.Get(s.regs, s.profile.Errors, decodeErrors)
}

// DeviceTime はメーターの時計。毎回読む。
func (s *Session) DeviceTime() (time.Time, error) {
	if err := s.requireIdentified("DeviceTime"); err != nil {
		return time.Time{}, err
	}
	var cell register.Cell[time.Time]
	return cell.Get(s.regs, s.profile.Clock, func(b []byte) (time.Time, error) {
		return codec.LongDateTime(b, s.opts.Location)
	})
}

func (s *Session) ClockRunning() (bool, error) {
	if err := s.requireIdentified("ClockRunning"); err != nil {
		return false, err
	}
	return s.cache.clockRunning.Get(s.regs, s.profile.ClockRunFlag, register.DecodeFlag)
}

func (s *Session) LoadProfileRunning() (bool, error) {
	if err := s.requireIdentified("LoadProfileRunning"); err != nil {
		return false, err
	}
	return s.cache.loadProfile.Get(s.regs, s.profile.LoadProfileRunFlag, register.DecodeFlag)
}

// IntervalLength は負荷プロファイルの記録間隔。
func (s *Session) IntervalLength() (time.Duration, error) {
	if err := s.requireIdentified("IntervalLength"); err != nil {
		return 0, err
	}
	m, err := s.cache.interval.Get(s.regs, s.profile.LoadProfileInterval, register.DecodeByte)
	if err != nil {
		return 0, err
	}
	return time.Duration(m) * time.Minute, nil
}

func (s *Session) TOURunning() (bool, error) {
	if err := s.requireIdentified("TOURunning"); err != nil {
		return false, err
	}
	return s.cache.touRunning.Get(s.regs, s.profile.TOURunFlag, register.DecodeFlag)
}

func (s *Session) DSTEnabled() (bool, error) {
	if err := s.requireIdentified("DSTEnabled"); err != nil {
		return false, err
	}
	return s.cache.dstEnabled.Get(s.regs, s.profile.DSTEnabledFlag, register.DecodeFlag)
}

// TOUInfo はTOU情報ブロック。
func (s *Session) TOUInfo() (tou.Info, error) {
	if err := s.requireIdentified("TOUInfo"); err != nil {
		return tou.Info{}, err
	}
	return s.cache.touInfo.Get(s.regs, s.profile.TOUInfo, tou.DecodeInfo)
}

// TOUEnabled は時計が動いていて季節0の表があるか返す。
func (s *Session) TOUEnabled() (bool, error) {
	running, err := s.ClockRunning()
	if err != nil || !running {
		return false, err
	}
	info, err := s.TOUInfo()
	if err != nil {
		return false, err
	}
	return info.TOUConfigured(), nil
}

func (s *Session) ScheduleID() (int, error) {
	info, err := s.TOUInfo()
	if err != nil {
		return 0, err
	}
	return info.ScheduleID, nil
}

// ExpirationDate はTOUスケジュールの有効期限。無ければゼロ値。
func (s *Session) ExpirationDate() (codec.Date, error) {
	info, err := s.TOUInfo()
	if err != nil {
		return codec.Date{}, err
	}
	return info.Expiration, nil
}

func (s *Session) DemandResetCount() (uint32, error) {
	if err := s.requireIdentified("DemandResetCount"); err != nil {
		return 0, err
	}
	return s.cache.demandResetCount.Get(s.regs, s.profile.DemandResetCount, register.DecodeBCD)
}

// LastDemandReset は最後のデマンドリセットの日時。年はホストの時計から推定する。
func (s *Session) LastDemandReset() (time.Time, error) {
	if err := s.requireIdentified("LastDemandReset"); err != nil {
		return time.Time{}, err
	}
	return s.cache.lastDemandReset.Get(s.regs, s.profile.LastDemandReset, func(b []byte) (time.Time, error) {
		return codec.ShortDateTime(b, s.opts.Now().In(s.opts.Location))
	})
}

func (s *Session) DisplayMode() (uint8, error) {
	if err := s.requireIdentified("DisplayMode"); err != nil {
		return 0, err
	}
	return s.cache.displayMode.Get(s.regs, s.profile.DisplayMode, register.DecodeByte)
}

// Energy は積算電力量(kWh)。毎回読む。
func (s *Session) Energy() (float64, error) {
	if err := s.requireIdentified("Energy"); err != nil {
		return 0, err
	}
	var cell register.Cell[float64]
	return cell.Get(s.regs, s.profile.Energy, func(b []byte) (float64, error) {
		return codec.FixedBCDToFloat(b, s.profile.EnergyDecimals)
	})
}

// MaxDemand は最大需要電力(kW)。毎回読む。
func (s *Session) MaxDemand() (float64, error) {
	if err := s.requireIdentified("MaxDemand"); err != nil {
		return 0, err
	}
	var cell register.Cell[float64]
	return cell.Get(s.regs, s.profile.MaxDemand, codec.FloatingBCDToFloat)
}

// ReadRegister は基本ページを直接読む。
func (s *Session) ReadRegister(address uint16, length int) ([]byte, error) {
	if err := s.requireIdentified("ReadRegister"); err != nil {
		return nil, err
	}
	return s.regs.ReadAt(address, length)
}
