// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package session

import (
	"fmt"
	"log/slog"

	"github.com/ak1211/scsmeter/internal/codec"
	"github.com/ak1211/scsmeter/internal/schedule"
	"github.com/ak1211/scsmeter/internal/scs"
	"github.com/ak1211/scsmeter/internal/tou"
)

// TOUSchedule はメーターのTOU暦を読む。読んだ暦は書き換えるまで覚えておく。
func (s *Session) TOUSchedule() (*tou.Calendar, error) {
	if err := s.requireIdentified("TOUSchedule"); err != nil {
		return nil, err
	}
	if s.cache.calendar != nil {
		return s.cache.calendar, nil
	}
	info, err := s.TOUInfo()
	if err != nil {
		return nil, err
	}
	if !info.TOUConfigured() {
		return nil, ErrNotConfiguredForTOU
	}
	events, err := s.regs.ReadAt(info.YearlyStart, int(info.YearlySize))
	if err != nil {
		return nil, fmt.Errorf("event list: %w", err)
	}
	var tables [tou.MaxSeasons][]byte
	for i, size := range info.SeasonSize {
		if size == 0 {
			continue
		}
		if tables[i], err = s.regs.ReadAt(info.SeasonStart[i], int(size)); err != nil {
			return nil, fmt.Errorf("season %d: %w", i, err)
		}
	}
	last := tou.MaxSeasons - 1
	if tables[last], err = s.readOpenSeason(info.SeasonStart[last], info.SeasonsEnd()); err != nil {
		return nil, fmt.Errorf("season %d: %w", last, err)
	}
	c, err := tou.DecodeCalendar(info, events, tables)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", scs.ErrProtocol, err)
	}
	s.cache.calendar = c
	return c, nil
}

// readOpenSeason は大きさを持たない季節の表を終端の印まで1点ずつ読む。
func (s *Session) readOpenSeason(start, end uint16) ([]byte, error) {
	var table []byte
	for at := int(start); at+tou.SwitchpointBytes <= int(end); at += tou.SwitchpointBytes {
		b, err := s.regs.ReadAt(uint16(at), tou.SwitchpointBytes)
		if err != nil {
			return nil, err
		}
		table = append(table, b...)
		sp, err := tou.DecodeSwitchpoint(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", scs.ErrProtocol, err)
		}
		if sp.EndOfSeason {
			return table, nil
		}
	}
	if len(table) > 0 {
		return nil, fmt.Errorf("%w: %w: season at %04x has no end marker", scs.ErrProtocol, tou.ErrMalformedCalendar, start)
	}
	return nil, nil
}

// DSTDates はメーターの暦にある夏時間の切り替え日。
func (s *Session) DSTDates() ([]tou.DSTDates, error) {
	c, err := s.TOUSchedule()
	if err != nil {
		return nil, err
	}
	return c.DSTDates(), nil
}

// flushCalendar はTOUの書き換えで変わりうるレジスタを読み直させる。
func (s *Session) flushCalendar() {
	s.cache.touInfo.Flush()
	s.cache.touRunning.Flush()
	s.cache.dstEnabled.Flush()
	s.cache.clockRunning.Flush()
	s.cache.calendar = nil
}

// ReconfigureTOU はメーターのTOU暦をスケジュールファイルの内容で書き換える。
// dstはメーターの夏時間が有効なら必須。
func (s *Session) ReconfigureTOU(tf *schedule.TOU, dst *schedule.DST) (Outcome, error) {
	if err := s.requireSecured("ReconfigureTOU"); err != nil {
		return Updated, err
	}
	defer s.flushCalendar()
	s.flushCalendar()

	running, err := s.ClockRunning()
	if err != nil {
		return Updated, err
	}
	if !running {
		return Updated, ErrClockNotRunning
	}
	info, err := s.TOUInfo()
	if err != nil {
		return Updated, err
	}
	if !info.TOUConfigured() {
		return Updated, ErrNotConfiguredForTOU
	}
	if !tf.Supports(s.profile.Family) {
		return Updated, fmt.Errorf("%w: schedule %d does not list %s", ErrScheduleNotSupported, tf.ID, s.profile.Family)
	}
	dstEnabled, err := s.DSTEnabled()
	if err != nil {
		return Updated, err
	}
	if dstEnabled && dst == nil {
		return Updated, fmt.Errorf("%w: meter has DST enabled", ErrDSTDataMissing)
	}

	c, err := tou.Build(tf, dst, tou.BuildOptions{DST: dstEnabled, DSTYearLimit: s.profile.DSTYearLimit})
	if err != nil {
		return Updated, err
	}
	if err := s.checkCalendarArea(info.SeasonStart[0], int(info.SeasonStart[0])); err != nil {
		return Updated, err
	}
	if err := c.Fit(info.SeasonStart[0], s.profile.CalendarLimit); err != nil {
		return Updated, err
	}
	infoBytes, err := c.Info.Encode()
	if err != nil {
		return Updated, err
	}
	eventBytes, err := tou.EncodeEvents(c.Events)
	if err != nil {
		return Updated, err
	}
	var seasonBytes []byte
	for _, se := range c.Seasons {
		b, err := se.Encode()
		if err != nil {
			return Updated, err
		}
		seasonBytes = append(seasonBytes, b...)
	}

	if err := s.writeCalendar(func() error {
		if err := s.regs.Write(s.profile.TOUInfo, infoBytes); err != nil {
			return fmt.Errorf("info block: %w", err)
		}
		if err := s.regs.WriteAt(c.Info.YearlyStart, eventBytes); err != nil {
			return fmt.Errorf("event list: %w", err)
		}
		if err := s.regs.WriteAt(c.Info.SeasonStart[0], seasonBytes); err != nil {
			return fmt.Errorf("season tables: %w", err)
		}
		return nil
	}); err != nil {
		return Updated, err
	}

	outcome := Updated
	if dst != nil && !dstEnabled {
		outcome = UpdatedConditional
	}
	s.logger.Info("ReconfigureTOU",
		slog.Int("scheduleID", c.Info.ScheduleID),
		slog.Int("events", len(c.Events)),
		slog.Int("seasonBytes", len(seasonBytes)),
		slog.String("outcome", outcome.String()))
	return outcome, nil
}

// UpdateDST はメーターの暦の夏時間の日付だけをDSTファイルの日付に置き換える。
func (s *Session) UpdateDST(dst *schedule.DST) (Outcome, error) {
	if err := s.requireSecured("UpdateDST"); err != nil {
		return Updated, err
	}
	if dst == nil {
		return Updated, fmt.Errorf("%w: no DST file", ErrDSTDataMissing)
	}
	defer s.flushCalendar()
	s.flushCalendar()

	enabled, err := s.DSTEnabled()
	if err != nil {
		return Updated, err
	}
	if !enabled {
		return Updated, ErrNotConfiguredForDST
	}
	c, err := s.TOUSchedule()
	if err != nil {
		return Updated, err
	}
	now, err := s.DeviceTime()
	if err != nil {
		return Updated, err
	}
	events, changed, err := tou.PatchDST(c.Events, dst, codec.DateOf(now))
	if err != nil {
		return Updated, err
	}
	if !changed {
		s.logger.Info("UpdateDST", slog.String("outcome", PreviouslyUpdated.String()))
		return PreviouslyUpdated, nil
	}
	eventBytes, err := tou.EncodeEvents(events)
	if err != nil {
		return Updated, err
	}
	if err := s.checkCalendarArea(c.Info.YearlyStart, int(c.Info.YearlyStart)+len(eventBytes)); err != nil {
		return Updated, err
	}
	if err := s.writeCalendar(func() error {
		return s.regs.WriteAt(c.Info.YearlyStart, eventBytes)
	}); err != nil {
		return Updated, err
	}
	s.logger.Info("UpdateDST", slog.String("outcome", Updated.String()))
	return Updated, nil
}

// checkCalendarArea は書き込み先が情報ブロックの後ろでcalendarLimitより前にあるか調べる。
// 外れていればメーターの情報ブロックが壊れている。
func (s *Session) checkCalendarArea(start uint16, end int) error {
	limit := int(s.profile.CalendarLimit)
	if int(start) < s.profile.TOUInfo.End() || int(start) >= limit || end > limit {
		return fmt.Errorf("%w: %w: calendar at %04x-%04x outside %04x-%04x",
			scs.ErrProtocol, tou.ErrMalformedCalendar, start, end, s.profile.TOUInfo.End(), limit)
	}
	return nil
}

// writeCalendar はTOUを止めて書き込み、動かし直して再設定フラグを立てる。
// 止めた後に失敗したら動かし直してから元のエラーを返す。
func (s *Session) writeCalendar(write func() error) (err error) {
	if err = s.regs.ClearFlag(s.profile.TOURunFlag); err != nil {
		return fmt.Errorf("stop TOU: %w", err)
	}
	defer func() {
		if err != nil {
			if rerr := s.regs.SetFlag(s.profile.TOURunFlag); rerr != nil {
				s.logger.Warn("writeCalendar rollback", "err", rerr)
			}
		}
	}()
	s.settle()
	if err = write(); err != nil {
		return err
	}
	if err = s.regs.SetFlag(s.profile.TOURunFlag); err != nil {
		return fmt.Errorf("start TOU: %w", err)
	}
	if err = s.regs.SetFlag(s.profile.TOUReconfigureFlag); err != nil {
		return fmt.Errorf("reconfigure TOU: %w", err)
	}
	return nil
}
