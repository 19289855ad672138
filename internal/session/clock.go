// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ak1211/scsmeter/internal/codec"
)

// intervalBounds はtを含む記録間隔の始まりと次の間隔の始まりを返す。
// 間隔はその日の0時から数える。
func intervalBounds(t time.Time, interval time.Duration) (time.Time, time.Time) {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	elapsed := t.Sub(midnight)
	start := midnight.Add(elapsed / interval * interval)
	return start, start.Add(interval)
}

// AdjustClock はメーターの時計をoffsetだけずらす。
// 負荷プロファイルを記録中なら、今の記録間隔から出てしまう調整は断る。
func (s *Session) AdjustClock(offset time.Duration) (err error) {
	if err := s.requireSecured("AdjustClock"); err != nil {
		return err
	}
	running, err := s.ClockRunning()
	if err != nil {
		return err
	}
	if !running {
		return ErrClockNotRunning
	}
	lp, err := s.LoadProfileRunning()
	if err != nil {
		return err
	}
	now, err := s.DeviceTime()
	if err != nil {
		return err
	}
	target := now.Add(offset + s.opts.SettleDelay)
	if lp {
		interval, err := s.IntervalLength()
		if err != nil {
			return err
		}
		if interval > 0 {
			start, next := intervalBounds(now, interval)
			if target.Before(start) || !target.Before(next) {
				return fmt.Errorf("%w: %v is outside [%v, %v)", ErrCrossesInterval,
					target.Format(time.TimeOnly), start.Format(time.TimeOnly), next.Format(time.TimeOnly))
			}
		}
	}
	data, err := codec.EncodeLongDateTime(target)
	if err != nil {
		return err
	}

	defer s.cache.clockRunning.Flush()
	defer s.cache.loadProfile.Flush()

	stopped := false
	defer func() {
		if err != nil && stopped {
			if rerr := s.restartClock(lp); rerr != nil {
				s.logger.Warn("AdjustClock rollback", "err", rerr)
			}
		}
	}()

	if lp {
		if err = s.regs.ClearFlag(s.profile.LoadProfileRunFlag); err != nil {
			return err
		}
		stopped = true
	}
	if err = s.regs.ClearFlag(s.profile.ClockRunFlag); err != nil {
		return err
	}
	stopped = true
	s.settle()
	if err = s.regs.Write(s.profile.Clock, data); err != nil {
		return err
	}
	if err = s.restartClock(lp); err != nil {
		return err
	}
	s.logger.Info("AdjustClock",
		slog.Duration("offset", offset),
		slog.Time("from", now),
		slog.Time("to", target),
		slog.Bool("loadProfile", lp))
	return nil
}

// restartClock は止めた時計を動かす。負荷プロファイルを記録していたならその時刻調整フラグで動かす。
func (s *Session) restartClock(lp bool) error {
	if lp {
		return s.regs.SetFlag(s.profile.LoadProfileAdjustTimeFlag)
	}
	return s.regs.SetFlag(s.profile.ClockReconfigureFlag)
}
