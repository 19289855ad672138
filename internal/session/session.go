// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>

// Package session はひとつのメーターとの接続の状態を管理する。
// ログオン、パスワード、ログオフ、時計合わせ、デマンドリセット、TOU暦の書き換えを行う。
// 呼び出し側は操作を直列に行うこと。
package session

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ak1211/scsmeter/internal/profile"
	"github.com/ak1211/scsmeter/internal/register"
	"github.com/ak1211/scsmeter/internal/scs"
	"github.com/ak1211/scsmeter/internal/tou"
)

// ハードウェアが要求する待ち時間
const DefaultSettleDelay = 1 * time.Second

type State int

const (
	Disconnected State = iota
	Identified
	SecurityCleared
	LoggedOff
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Identified:
		return "Identified"
	case SecurityCleared:
		return "SecurityCleared"
	case LoggedOff:
		return "LoggedOff"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Options struct {
	Logger *slog.Logger
	// 時計や計量を止めた後とフラグを書いた後の待ち時間
	SettleDelay time.Duration
	// メーターの時計を解釈するタイムゾーン
	Location *time.Location
	Now      func() time.Time
	Sleep    func(time.Duration)
}

// キャッシュするレジスタ
type cache struct {
	programID        register.Cell[uint32]
	serialNumber     register.Cell[string]
	firmwareVersion  register.Cell[string]
	softwareVersion  register.Cell[string]
	clockRunning     register.Cell[bool]
	loadProfile      register.Cell[bool]
	interval         register.Cell[uint8]
	touRunning       register.Cell[bool]
	dstEnabled       register.Cell[bool]
	touInfo          register.Cell[tou.Info]
	demandResetCount register.Cell[uint32]
	lastDemandReset  register.Cell[time.Time]
	displayMode      register.Cell[uint8]

	calendar *tou.Calendar
}

func (c *cache) flushAll() {
	register.FlushAll(
		&c.programID, &c.serialNumber, &c.firmwareVersion, &c.softwareVersion,
		&c.clockRunning, &c.loadProfile, &c.interval,
		&c.touRunning, &c.dstEnabled, &c.touInfo,
		&c.demandResetCount, &c.lastDemandReset, &c.displayMode,
	)
	c.calendar = nil
}

// Session はひとつの物理接続の間のメーターとのやりとり。
type Session struct {
	transport scs.Transport
	profile   *profile.Profile
	regs      *register.Registers
	logger    *slog.Logger
	opts      Options

	state    State
	identity scs.Identity
	password string
	secured  bool
	cache    cache
}

// New はトランスポートと機種プロファイルからセッションを作る。
func New(t scs.Transport, p *profile.Profile, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SettleDelay == 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	return &Session{
		transport: t,
		profile:   p,
		regs:      register.New(t, opts.Logger),
		logger:    opts.Logger,
		opts:      opts,
	}
}

func (s *Session) State() State { return s.state }

func (s *Session) Identity() scs.Identity { return s.identity }

func (s *Session) Profile() *profile.Profile { return s.profile }

// Password は受理されたパスワード。
func (s *Session) Password() (string, bool) { return s.password, s.secured }

func (s *Session) settle() {
	s.opts.Sleep(s.opts.SettleDelay)
}

// identify はウェイクアップしてメーターを識別し直す。
func (s *Session) identify() (scs.Identity, error) {
	ack, err := s.transport.WakeUp()
	if err := scs.Check("WakeUp", ack, err); err != nil {
		return scs.Identity{}, err
	}
	ack, id, err := s.transport.Identify()
	if err := scs.Check("Identify", ack, err); err != nil {
		return scs.Identity{}, err
	}
	id.UnitID = strings.TrimRight(id.UnitID, "\x00")
	return id, nil
}

func (s *Session) verifyDeviceType(id scs.Identity) error {
	if id.DeviceType != s.profile.DeviceType {
		return fmt.Errorf("%w: meter %q is %q, expected %q",
			ErrDeviceTypeMismatch, id.UnitID, id.DeviceType, s.profile.DeviceType)
	}
	return nil
}

// Logon はメーターを識別する。このトランスポートで識別済みならウェイクアップしない。
// ログオフした後は回線が切れているので必ず識別し直す。
func (s *Session) Logon() error {
	var id scs.Identity
	cached := false
	if c, ok := s.transport.(scs.IdentityCache); ok && s.state != LoggedOff {
		id, cached = c.LastIdentity()
		id.UnitID = strings.TrimRight(id.UnitID, "\x00")
	}
	if !cached {
		var err error
		if id, err = s.identify(); err != nil {
			s.logger.Error("Logon", "err", err)
			return err
		}
	}
	if err := s.verifyDeviceType(id); err != nil {
		s.logger.Error("Logon", "err", err)
		return err
	}
	if id != s.identity {
		s.cache.flushAll()
		s.password, s.secured = "", false
	}
	s.identity = id
	s.regs.SetIdentity(id)
	if s.secured {
		s.state = SecurityCleared
	} else {
		s.state = Identified
	}
	s.logger.Debug("Logon",
		slog.String("unitID", id.UnitID),
		slog.String("deviceType", id.DeviceType),
		slog.Bool("reused", cached))
	return nil
}

// Security は候補のパスワードを順に試す。
// 受理されなかったときは次の候補の前に識別し直す。最後の候補の後は識別し直さない。
func (s *Session) Security(passwords []string) error {
	switch s.state {
	case Identified:
	case SecurityCleared:
		if s.secured {
			return nil
		}
	default:
		return fmt.Errorf("Security: %w (%v)", ErrNotLoggedOn, s.state)
	}
	for i, p := range passwords {
		ack, err := s.transport.SendPassword(p)
		if err == nil && ack == scs.Ack {
			s.password, s.secured = p, true
			s.state = SecurityCleared
			s.logger.Debug("Security", slog.Int("candidate", i), slog.String("result", "ok"))
			s.extendCommTimeout()
			return nil
		}
		// 不正なパスワードにまともに応答しない機種があるので、どの失敗も同じに扱う
		s.logger.Debug("Security", slog.Int("candidate", i), slog.String("ack", ack.String()), "err", err)
		if i == len(passwords)-1 {
			break
		}
		id, err := s.identify()
		if err == nil {
			err = s.verifyDeviceType(id)
		}
		if err != nil {
			s.password, s.secured = "", false
			s.state = Disconnected
			s.regs.ClearIdentity()
			return fmt.Errorf("Security: re-identify: %w", err)
		}
	}
	return fmt.Errorf("%w: no password accepted", scs.ErrSecurity)
}

// extendCommTimeout は通信タイムアウトを最大にする。書けない権限もあるので失敗は無視する。
func (s *Session) extendCommTimeout() {
	data := make([]byte, s.profile.CommTimeout.Length)
	data[len(data)-1] = s.profile.CommTimeoutMax
	if err := s.regs.Write(s.profile.CommTimeout, data); err != nil {
		s.logger.Warn("extendCommTimeout", "err", err)
	}
}

// Logoff は回線を切るフラグを書く。失敗してもメーターは自分で戻るので無視する。
func (s *Session) Logoff() {
	if s.state == Identified || s.state == SecurityCleared {
		if err := s.regs.SetFlag(s.profile.HangUpFlag); err != nil {
			s.logger.Warn("Logoff", "err", err)
		}
	}
	s.password, s.secured = "", false
	s.state = LoggedOff
	s.cache.flushAll()
	s.logger.Debug("Logoff", slog.String("unitID", s.identity.UnitID))
}

func (s *Session) requireIdentified(op string) error {
	if s.state != Identified && s.state != SecurityCleared {
		return fmt.Errorf("%s: %w (%v)", op, ErrNotLoggedOn, s.state)
	}
	return nil
}

func (s *Session) requireSecured(op string) error {
	if err := s.requireIdentified(op); err != nil {
		return err
	}
	if !s.secured {
		return fmt.Errorf("%s: %w: security not cleared", op, scs.ErrSecurity)
	}
	return nil
}
