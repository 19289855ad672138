// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package session

import (
	"fmt"
	"log/slog"
)

// ResetDemand はデマンドリセットのフラグを書く。
func (s *Session) ResetDemand() error {
	if err := s.requireSecured("ResetDemand"); err != nil {
		return err
	}
	if err := s.regs.SetFlag(s.profile.DemandResetFlag); err != nil {
		return fmt.Errorf("ResetDemand: %w", err)
	}
	s.cache.demandResetCount.Flush()
	s.cache.lastDemandReset.Flush()
	s.logger.Info("ResetDemand", slog.String("result", "ok"))
	return nil
}

// ClearBillingData は請求データを消すフラグを書く。
func (s *Session) ClearBillingData() error {
	if err := s.requireSecured("ClearBillingData"); err != nil {
		return err
	}
	if err := s.regs.SetFlag(s.profile.ClearBillingFlag); err != nil {
		return fmt.Errorf("ClearBillingData: %w", err)
	}
	s.cache.demandResetCount.Flush()
	s.cache.lastDemandReset.Flush()
	s.settle()
	s.logger.Info("ClearBillingData", slog.String("result", "ok"))
	return nil
}

// ChangeDisplayMode は表示モードを書く。
func (s *Session) ChangeDisplayMode(mode uint8) error {
	if err := s.requireSecured("ChangeDisplayMode"); err != nil {
		return err
	}
	data := make([]byte, s.profile.DisplayMode.Length)
	data[len(data)-1] = mode
	if err := s.regs.Write(s.profile.DisplayMode, data); err != nil {
		return fmt.Errorf("ChangeDisplayMode: %w", err)
	}
	s.cache.displayMode.Flush()
	s.settle()
	s.logger.Info("ChangeDisplayMode", slog.Int("mode", int(mode)))
	return nil
}
