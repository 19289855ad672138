// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package session

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ak1211/scsmeter/internal/codec"
	"github.com/ak1211/scsmeter/internal/profile"
	"github.com/ak1211/scsmeter/internal/register"
	"github.com/ak1211/scsmeter/internal/scs"
	"github.com/ak1211/scsmeter/internal/scs/scstest"
)

var testIdentity = scs.Identity{
	UnitID:      "MTR42\x00\x00\x00",
	DeviceType:  "VEC",
	MemoryStart: 0x0000,
	MemoryEnd:   0x0fff,
}

var testNow = time.Date(2026, time.October, 15, 10, 7, 0, 0, time.UTC)

type fixture struct {
	meter   *scstest.Meter
	profile *profile.Profile
	session *Session
	slept   []time.Duration
}

func loadProfile(t *testing.T) *profile.Profile {
	t.Helper()
	p, err := profile.Load(filepath.Join("..", "profile", "testdata", "vectron.yaml"))
	require.NoError(t, err)
	return p
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	p := loadProfile(t)
	m := scstest.NewMeter(testIdentity, "secret")
	m.MaxUpload = p.MaxUploadSize
	m.MaxDownload = p.MaxDownloadSize
	f := &fixture{meter: m, profile: p}
	f.session = New(m, p, Options{
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
		Sleep:    func(d time.Duration) { f.slept = append(f.slept, d) },
	})
	m.Poke(p.ClockRunFlag.Address, []byte{register.FlagSet})
	f.setClock(t, testNow)
	return f
}

func (f *fixture) setClock(t *testing.T, at time.Time) {
	t.Helper()
	b, err := codec.EncodeLongDateTime(at)
	require.NoError(t, err)
	f.meter.Poke(f.profile.Clock.Address, b)
}

// logon はログオンしてパスワードを通す。
func (f *fixture) logon(t *testing.T) {
	t.Helper()
	require.NoError(t, f.session.Logon())
	require.NoError(t, f.session.Security([]string{"secret"}))
}

func TestLogon(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Logon())

	assert.Equal(t, Identified, f.session.State())
	assert.Equal(t, "MTR42", f.session.UnitID())
	assert.Equal(t, 1, f.meter.WakeUps)
	assert.Equal(t, 1, f.meter.Identifys)

	// 同じトランスポートで識別済みなら起こし直さない
	require.NoError(t, f.session.Logon())
	assert.Equal(t, 1, f.meter.WakeUps)
	assert.Equal(t, 1, f.meter.Identifys)
}

func TestLogon_AckMapping(t *testing.T) {
	cases := []struct {
		ack    scs.AckCode
		want   error
		result Result
	}{
		{scs.Cancel, scs.ErrSecurity, SecurityError},
		{scs.Nak, scs.ErrProtocol, ProtocolError},
		{scs.NoResponse, scs.ErrTimeout, IOTimeout},
	}
	for _, c := range cases {
		t.Run(c.ack.String(), func(t *testing.T) {
			f := newFixture(t)
			f.meter.IdentifyAck = c.ack
			err := f.session.Logon()
			assert.ErrorIs(t, err, c.want)
			assert.Equal(t, c.result, ResultOf(err))
			assert.Equal(t, Disconnected, f.session.State())
		})
	}
}

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) WakeUp() (scs.AckCode, error) {
	args := m.Called()
	return args.Get(0).(scs.AckCode), args.Error(1)
}

func (m *mockTransport) Identify() (scs.AckCode, scs.Identity, error) {
	args := m.Called()
	return args.Get(0).(scs.AckCode), args.Get(1).(scs.Identity), args.Error(2)
}

func (m *mockTransport) SendPassword(secret string) (scs.AckCode, error) {
	args := m.Called(secret)
	return args.Get(0).(scs.AckCode), args.Error(1)
}

func (m *mockTransport) Upload(address uint16, length uint16) (scs.AckCode, []byte, error) {
	args := m.Called(address, length)
	data, _ := args.Get(1).([]byte)
	return args.Get(0).(scs.AckCode), data, args.Error(2)
}

func (m *mockTransport) Download(address uint16, data []byte) (scs.AckCode, error) {
	args := m.Called(address, data)
	return args.Get(0).(scs.AckCode), args.Error(1)
}

func (m *mockTransport) MaxUploadSize() int   { return scs.DefaultMaxUploadSize }
func (m *mockTransport) MaxDownloadSize() int { return scs.DefaultMaxDownloadSize }

func TestLogon_DeviceTypeMismatchBlocksSecurity(t *testing.T) {
	m := new(mockTransport)
	m.On("WakeUp").Return(scs.Ack, nil).Once()
	m.On("Identify").Return(scs.Ack, scs.Identity{UnitID: "OTHER", DeviceType: "CEN", MemoryEnd: 0x0fff}, nil).Once()
	s := New(m, loadProfile(t), Options{})

	err := s.Logon()
	assert.ErrorIs(t, err, ErrDeviceTypeMismatch)
	assert.Equal(t, DeviceTypeMismatch, ResultOf(err))
	assert.Equal(t, Disconnected, s.State())

	err = s.Security([]string{"secret"})
	assert.ErrorIs(t, err, ErrNotLoggedOn)
	assert.NotEqual(t, SecurityCleared, s.State())

	m.AssertExpectations(t)
	m.AssertNotCalled(t, "SendPassword", mock.Anything)
}

// 失敗した候補の後には毎回識別し直すが、最後の候補の後には識別し直さない。
// 機種によって必要かどうか分からないのでこの手順を変えないこと。
func TestSecurity_ReidentifiesBetweenCandidates(t *testing.T) {
	p := loadProfile(t)
	id := scs.Identity{UnitID: "MTR42", DeviceType: "VEC", MemoryEnd: 0x0fff}
	m := new(mockTransport)
	mock.InOrder(
		m.On("WakeUp").Return(scs.Ack, nil).Once(),
		m.On("Identify").Return(scs.Ack, id, nil).Once(),
		m.On("SendPassword", "first").Return(scs.Nak, nil).Once(),
		m.On("WakeUp").Return(scs.Ack, nil).Once(),
		m.On("Identify").Return(scs.Ack, id, nil).Once(),
		m.On("SendPassword", "second").Return(scs.Cancel, nil).Once(),
		m.On("WakeUp").Return(scs.Ack, nil).Once(),
		m.On("Identify").Return(scs.Ack, id, nil).Once(),
		m.On("SendPassword", "third").Return(scs.Ack, nil).Once(),
		m.On("Download", p.CommTimeout.Address, []byte{p.CommTimeoutMax}).Return(scs.Ack, nil).Once(),
	)
	s := New(m, p, Options{})
	require.NoError(t, s.Logon())
	require.NoError(t, s.Security([]string{"first", "second", "third"}))
	m.AssertExpectations(t)
}

func TestSecurity_RetryBound(t *testing.T) {
	f := newFixture(t)
	f.meter.Passwords = map[string]bool{"third": true}
	require.NoError(t, f.session.Logon())

	candidates := []string{"first", "second", "third"}
	require.NoError(t, f.session.Security(candidates))

	// ログオンの1回と、失敗した候補ごとの1回
	assert.Equal(t, 1+len(candidates)-1, f.meter.Identifys)
	assert.Equal(t, candidates, f.meter.Attempts)
	pw, ok := f.session.Password()
	assert.True(t, ok)
	assert.Equal(t, "third", pw)
	assert.Equal(t, SecurityCleared, f.session.State())
	assert.Equal(t, []byte{0xff}, f.meter.Peek(f.profile.CommTimeout.Address, 1))
}

func TestSecurity_NoCandidateAccepted(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Logon())

	err := f.session.Security([]string{"a", "b"})
	assert.ErrorIs(t, err, scs.ErrSecurity)
	assert.Equal(t, SecurityError, ResultOf(err))
	assert.Equal(t, 2, f.meter.Identifys)
	_, ok := f.session.Password()
	assert.False(t, ok)
}

func TestSecurity_TransportFailureIsSecurityFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Logon())
	f.meter.PasswordErr = errors.New("garbled reply")

	err := f.session.Security([]string{"secret"})
	assert.ErrorIs(t, err, scs.ErrSecurity)
	assert.NotErrorIs(t, err, scs.ErrTimeout)
}

func TestSecurity_ReidentifyFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Logon())
	f.meter.WakeUpAck = scs.NoResponse

	err := f.session.Security([]string{"wrong", "secret"})
	assert.ErrorIs(t, err, scs.ErrTimeout)
	assert.Equal(t, Disconnected, f.session.State())
	assert.Equal(t, []string{"wrong"}, f.meter.Attempts)
	_, ok := f.session.Password()
	assert.False(t, ok)
}

func TestSecurity_CommTimeoutWriteIsBestEffort(t *testing.T) {
	f := newFixture(t)
	f.meter.DownloadAck[f.profile.CommTimeout.Address] = scs.Cancel
	require.NoError(t, f.session.Logon())
	require.NoError(t, f.session.Security([]string{"secret"}))
	assert.Equal(t, SecurityCleared, f.session.State())
}

func TestSecurity_PasswordNotResent(t *testing.T) {
	f := newFixture(t)
	f.logon(t)
	require.NoError(t, f.session.Security([]string{"secret"}))
	assert.Len(t, f.meter.Attempts, 1)
}

func TestLogoff(t *testing.T) {
	f := newFixture(t)
	f.logon(t)
	f.session.Logoff()

	assert.Equal(t, LoggedOff, f.session.State())
	assert.Len(t, f.meter.DownloadsTo(f.profile.HangUpFlag.Address), 1)
	_, ok := f.session.Password()
	assert.False(t, ok)

	_, err := f.session.ProgramID()
	assert.ErrorIs(t, err, ErrNotLoggedOn)

	// 切った回線は起こし直す
	require.NoError(t, f.session.Logon())
	assert.Equal(t, Identified, f.session.State())
	assert.Equal(t, 2, f.meter.WakeUps)
	assert.Equal(t, 2, f.meter.Identifys)
}

func TestLogoff_FailureIgnored(t *testing.T) {
	f := newFixture(t)
	f.logon(t)
	f.meter.DownloadErr[f.profile.HangUpFlag.Address] = errors.New("line dropped")

	f.session.Logoff()
	assert.Equal(t, LoggedOff, f.session.State())
	_, ok := f.session.Password()
	assert.False(t, ok)
}

func TestWritesNeedSecurity(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Logon())

	assert.ErrorIs(t, f.session.ResetDemand(), scs.ErrSecurity)
	assert.ErrorIs(t, f.session.ClearBillingData(), scs.ErrSecurity)
	assert.ErrorIs(t, f.session.ChangeDisplayMode(2), scs.ErrSecurity)
	assert.ErrorIs(t, f.session.AdjustClock(time.Second), scs.ErrSecurity)
	assert.Empty(t, f.meter.Downloads)
}

func TestResetDemand(t *testing.T) {
	f := newFixture(t)
	f.logon(t)
	f.meter.Poke(f.profile.DemandResetCount.Address, []byte{0x00, 0x41})
	f.meter.OnDownload = func(m *scstest.Meter, address uint16, data []byte) {
		if address == f.profile.DemandResetFlag.Address {
			m.Poke(f.profile.DemandResetCount.Address, []byte{0x00, 0x42})
		}
	}

	n, err := f.session.DemandResetCount()
	require.NoError(t, err)
	assert.Equal(t, uint32(41), n)

	require.NoError(t, f.session.ResetDemand())
	assert.Equal(t, []byte{0x01}, f.meter.Peek(f.profile.DemandResetFlag.Address, 1))

	n, err = f.session.DemandResetCount()
	require.NoError(t, err)
	assert.Equal(t, uint32(42), n)
	assert.Equal(t, 2, f.meter.UploadsFrom(f.profile.DemandResetCount.Address))
}

func TestResetDemand_Cancel(t *testing.T) {
	f := newFixture(t)
	f.logon(t)
	f.meter.DownloadAck[f.profile.DemandResetFlag.Address] = scs.Cancel

	err := f.session.ResetDemand()
	assert.Equal(t, SecurityError, ResultOf(err))

	f.meter.DownloadAck[f.profile.DemandResetFlag.Address] = scs.Nak
	err = f.session.ResetDemand()
	assert.Equal(t, ProtocolError, ResultOf(err))
}

func TestClearBillingData(t *testing.T) {
	f := newFixture(t)
	f.logon(t)
	require.NoError(t, f.session.ClearBillingData())
	assert.Equal(t, []byte{0x01}, f.meter.Peek(f.profile.ClearBillingFlag.Address, 1))
	assert.Equal(t, []time.Duration{DefaultSettleDelay}, f.slept)
}

func TestChangeDisplayMode(t *testing.T) {
	f := newFixture(t)
	f.logon(t)

	mode, err := f.session.DisplayMode()
	require.NoError(t, err)
	assert.Equal(t, uint8(0), mode)

	require.NoError(t, f.session.ChangeDisplayMode(3))
	assert.Equal(t, []time.Duration{DefaultSettleDelay}, f.slept)

	mode, err = f.session.DisplayMode()
	require.NoError(t, err)
	assert.Equal(t, uint8(3), mode)

	// 失敗したら待たない
	f.meter.DownloadAck[f.profile.DisplayMode.Address] = scs.Nak
	assert.Error(t, f.session.ChangeDisplayMode(1))
	assert.Len(t, f.slept, 1)
}

func TestGetters(t *testing.T) {
	f := newFixture(t)
	p := f.profile
	f.meter.Poke(p.ProgramID.Address, []byte{0x12, 0x34})
	f.meter.Poke(p.SerialNumber.Address, []byte("SN0042\x00\x00\x00"))
	f.meter.Poke(p.FirmwareVersion.Address, []byte{3, 12})
	f.meter.Poke(p.SoftwareVersion.Address, []byte{1, 5})
	f.meter.Poke(p.Errors.Address, []byte{0x05})
	f.meter.Poke(p.Energy.Address, []byte{0x01, 0x23, 0x45, 0x67})
	demand, err := codec.FloatToFloatingBCD(12.5, int(p.MaxDemand.Length))
	require.NoError(t, err)
	f.meter.Poke(p.MaxDemand.Address, demand)
	f.meter.Poke(p.LastDemandReset.Address, codec.EncodeShortDateTime(time.Date(2026, time.September, 30, 23, 45, 0, 0, time.UTC)))
	require.NoError(t, f.session.Logon())

	id, err := f.session.ProgramID()
	require.NoError(t, err)
	assert.Equal(t, uint32(1234), id)

	sn, err := f.session.SerialNumber()
	require.NoError(t, err)
	assert.Equal(t, "SN0042", sn)

	fw, err := f.session.FirmwareVersion()
	require.NoError(t, err)
	assert.Equal(t, "3.12", fw)

	sw, err := f.session.SoftwareVersion()
	require.NoError(t, err)
	assert.Equal(t, "1.05", sw)

	list, err := f.session.Errors()
	require.NoError(t, err)
	assert.Equal(t, []string{"LowBattery", "ROMChecksum"}, list)

	at, err := f.session.DeviceTime()
	require.NoError(t, err)
	assert.True(t, testNow.Equal(at))

	kwh, err := f.session.Energy()
	require.NoError(t, err)
	assert.InDelta(t, 12345.67, kwh, 1e-9)

	kw, err := f.session.MaxDemand()
	require.NoError(t, err)
	assert.InDelta(t, 12.5, kw, 1e-9)

	last, err := f.session.LastDemandReset()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Date(2026, time.September, 30, 23, 45, 0, 0, time.UTC), last, 0)

	// キャッシュされるものは2回目に読まない
	_, err = f.session.ProgramID()
	require.NoError(t, err)
	assert.Equal(t, 1, f.meter.UploadsFrom(p.ProgramID.Address))
	_, err = f.session.DeviceTime()
	require.NoError(t, err)
	assert.Equal(t, 2, f.meter.UploadsFrom(p.Clock.Address))
}

func TestGetters_DecodeFailureIsProtocolError(t *testing.T) {
	f := newFixture(t)
	f.meter.Poke(f.profile.ProgramID.Address, []byte{0x1f, 0x00})
	require.NoError(t, f.session.Logon())

	_, err := f.session.ProgramID()
	assert.ErrorIs(t, err, scs.ErrProtocol)
	assert.ErrorIs(t, err, codec.ErrInvalidDigit)
	assert.Equal(t, ProtocolError, ResultOf(err))
}

func TestResultOf(t *testing.T) {
	assert.Equal(t, Success, ResultOf(nil))
	assert.Equal(t, Error, ResultOf(errors.New("other")))
	assert.Equal(t, CrossesInterval, ResultOf(ErrCrossesInterval))
	assert.Equal(t, DatesExpired, ResultOf(ErrDatesExpired))
	assert.Equal(t, "ScheduleNotSupported", ScheduleNotSupported.String())
	assert.Equal(t, "PreviouslyUpdated", PreviouslyUpdated.String())
}
