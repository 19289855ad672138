// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package main

import (
	"encoding/hex"
	"log/slog"
	"strconv"

	"github.com/ak1211/scsmeter/internal/codec"
	"github.com/ak1211/scsmeter/internal/session"
	"github.com/ak1211/scsmeter/internal/tou"
)

func reportIdentity(s *session.Session) error {
	id := s.Identity()
	caps := s.Profile().Capabilities
	slog.Info("identity",
		slog.String("unitId", s.UnitID()),
		slog.String("deviceType", id.DeviceType),
		slog.String("memoryStart", strconv.FormatUint(uint64(id.MemoryStart), 16)),
		slog.String("memoryEnd", strconv.FormatUint(uint64(id.MemoryEnd), 16)),
	)
	slog.Info("capabilities",
		slog.String("family", s.Profile().Family),
		slog.Bool("tertiaryPassword", caps.TertiaryPassword),
		slog.Bool("modemPassword", caps.ModemPassword),
		slog.Bool("seasonChange", caps.SeasonChange),
	)
	return nil
}

// 表示するレジスタ
type registerReport struct {
	name string
	read func(s *session.Session) (slog.Value, error)
}

func stringValue(f func() (string, error)) (slog.Value, error) {
	v, err := f()
	return slog.StringValue(v), err
}

func boolValue(f func() (bool, error)) (slog.Value, error) {
	v, err := f()
	return slog.BoolValue(v), err
}

var registerReports = []registerReport{
	{"programId", func(s *session.Session) (slog.Value, error) {
		v, err := s.ProgramID()
		return slog.Uint64Value(uint64(v)), err
	}},
	{"serialNumber", func(s *session.Session) (slog.Value, error) { return stringValue(s.SerialNumber) }},
	{"firmwareVersion", func(s *session.Session) (slog.Value, error) { return stringValue(s.FirmwareVersion) }},
	{"softwareVersion", func(s *session.Session) (slog.Value, error) { return stringValue(s.SoftwareVersion) }},
	{"errors", func(s *session.Session) (slog.Value, error) {
		v, err := s.Errors()
		return slog.AnyValue(v), err
	}},
	{"deviceTime", func(s *session.Session) (slog.Value, error) {
		v, err := s.DeviceTime()
		return slog.TimeValue(v), err
	}},
	{"clockRunning", func(s *session.Session) (slog.Value, error) { return boolValue(s.ClockRunning) }},
	{"loadProfileRunning", func(s *session.Session) (slog.Value, error) { return boolValue(s.LoadProfileRunning) }},
	{"intervalLength", func(s *session.Session) (slog.Value, error) {
		v, err := s.IntervalLength()
		return slog.DurationValue(v), err
	}},
	{"touRunning", func(s *session.Session) (slog.Value, error) { return boolValue(s.TOURunning) }},
	{"touEnabled", func(s *session.Session) (slog.Value, error) { return boolValue(s.TOUEnabled) }},
	{"dstEnabled", func(s *session.Session) (slog.Value, error) { return boolValue(s.DSTEnabled) }},
	{"scheduleId", func(s *session.Session) (slog.Value, error) {
		v, err := s.ScheduleID()
		return slog.IntValue(v), err
	}},
	{"expirationDate", func(s *session.Session) (slog.Value, error) {
		v, err := s.ExpirationDate()
		return slog.StringValue(v.String()), err
	}},
	{"demandResetCount", func(s *session.Session) (slog.Value, error) {
		v, err := s.DemandResetCount()
		return slog.Uint64Value(uint64(v)), err
	}},
	{"lastDemandReset", func(s *session.Session) (slog.Value, error) {
		v, err := s.LastDemandReset()
		return slog.TimeValue(v), err
	}},
	{"displayMode", func(s *session.Session) (slog.Value, error) {
		v, err := s.DisplayMode()
		return slog.IntValue(int(v)), err
	}},
	{"energy", func(s *session.Session) (slog.Value, error) {
		v, err := s.Energy()
		return slog.Float64Value(v), err
	}},
	{"maxDemand", func(s *session.Session) (slog.Value, error) {
		v, err := s.MaxDemand()
		return slog.Float64Value(v), err
	}},
}

// 読めなかったレジスタは飛ばして、最初のエラーを返す
func reportRegisters(s *session.Session) error {
	var first error
	for _, r := range registerReports {
		v, err := r.read(s)
		if err != nil {
			slog.Warn(r.name, "err", err)
			if first == nil {
				first = err
			}
			continue
		}
		slog.Info("register", slog.Attr{Key: r.name, Value: v})
	}
	return first
}

func reportRaw(address uint16, data []byte) {
	slog.Info("register",
		slog.String("address", strconv.FormatUint(uint64(address), 16)),
		slog.Int("length", len(data)),
		slog.String("data", hex.EncodeToString(data)),
	)
}

func reportDSTDates(dates []tou.DSTDates) {
	if len(dates) == 0 {
		slog.Info("dst", slog.String("result", "no DST dates"))
		return
	}
	for _, d := range dates {
		slog.Info("dst",
			slog.Int("year", d.Year),
			slog.String("advance", d.Advance.String()),
			slog.String("retard", d.Retard.String()),
		)
	}
}

func reportSchedule(c *tou.Calendar, today codec.Date) {
	info := c.Info
	week := make([]string, len(info.TypicalWeek))
	for i, d := range info.TypicalWeek {
		week[i] = d.String()
	}
	slog.Info("tou",
		slog.Int("scheduleId", info.ScheduleID),
		slog.String("expiration", info.Expiration.String()),
		slog.Any("typicalWeek", week),
		slog.String("yearlyStart", strconv.FormatUint(uint64(info.YearlyStart), 16)),
		slog.Int("yearlySize", int(info.YearlySize)),
	)
	if season, ok := tou.SeasonAt(c.Events, today); ok {
		slog.Info("tou", slog.String("today", today.String()), slog.Int("season", season))
	}
	for i, se := range c.Seasons {
		if !se.Used() {
			continue
		}
		for _, sp := range se.Switchpoints {
			slog.Info("season", slog.Int("number", i), slog.String("switchpoint", sp.String()))
		}
	}
	for _, y := range c.Years() {
		for _, e := range y.Events {
			slog.Info("event", slog.Int("year", y.Year), slog.String("event", e.String()))
		}
	}
}
