// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>

// Package profile はメーター機種ごとの基本ページ配置を表す。
// セッションはアドレスを直接持たず、ここで読み込んだ値だけを使う。
package profile

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

var ErrInvalidProfile = errors.New("invalid device profile")

// Field は基本ページ上の(アドレス, 長さ)。
type Field struct {
	Address uint16 `yaml:"address"`
	Length  uint16 `yaml:"length"`
}

// End は領域の直後のアドレス。
func (f Field) End() int { return int(f.Address) + int(f.Length) }

func (f Field) String() string {
	return fmt.Sprintf("%04x+%d", f.Address, f.Length)
}

// Profile は機種ファミリーひとつ分の配置と能力。
type Profile struct {
	Family          string `yaml:"family"`
	DeviceType      string `yaml:"deviceType"`
	MaxUploadSize   int    `yaml:"maxUploadSize"`
	MaxDownloadSize int    `yaml:"maxDownloadSize"`

	// 時計
	Clock                Field `yaml:"clock"`
	ClockRunFlag         Field `yaml:"clockRunFlag"`
	ClockReconfigureFlag Field `yaml:"clockReconfigureFlag"`

	// 負荷プロファイル
	LoadProfileRunFlag        Field `yaml:"loadProfileRunFlag"`
	LoadProfileInterval       Field `yaml:"loadProfileInterval"`
	LoadProfileAdjustTimeFlag Field `yaml:"loadProfileAdjustTimeFlag"`

	// 時間帯別料金
	TOURunFlag         Field  `yaml:"touRunFlag"`
	TOUReconfigureFlag Field  `yaml:"touReconfigureFlag"`
	TOUInfo            Field  `yaml:"touInfo"`
	CalendarLimit      uint16 `yaml:"calendarLimit"`
	DSTEnabledFlag     Field  `yaml:"dstEnabledFlag"`
	// 独立したDST表を持つ機種で書けるDSTの年数(0なら制限なし)
	DSTYearLimit int `yaml:"dstYearLimit"`

	Capabilities Capabilities `yaml:"capabilities"`

	// デマンドと請求
	DemandResetFlag  Field `yaml:"demandResetFlag"`
	DemandResetCount Field `yaml:"demandResetCount"`
	LastDemandReset  Field `yaml:"lastDemandReset"`
	ClearBillingFlag Field `yaml:"clearBillingFlag"`
	Energy           Field `yaml:"energy"`
	EnergyDecimals   int   `yaml:"energyDecimals"`
	MaxDemand        Field `yaml:"maxDemand"`

	// 通信と表示
	DisplayMode    Field `yaml:"displayMode"`
	HangUpFlag     Field `yaml:"hangUpFlag"`
	CommTimeout    Field `yaml:"commTimeout"`
	CommTimeoutMax uint8 `yaml:"commTimeoutMax"`

	// 識別情報
	ProgramID       Field `yaml:"programId"`
	SerialNumber    Field `yaml:"serialNumber"`
	FirmwareVersion Field `yaml:"firmwareVersion"`
	SoftwareVersion Field `yaml:"softwareVersion"`
	Errors          Field `yaml:"errors"`
}

// Fields は名前付きの全フィールドを返す。
func (p *Profile) Fields() map[string]Field {
	return map[string]Field{
		"clock":                     p.Clock,
		"clockRunFlag":              p.ClockRunFlag,
		"clockReconfigureFlag":      p.ClockReconfigureFlag,
		"loadProfileRunFlag":        p.LoadProfileRunFlag,
		"loadProfileInterval":       p.LoadProfileInterval,
		"loadProfileAdjustTimeFlag": p.LoadProfileAdjustTimeFlag,
		"touRunFlag":                p.TOURunFlag,
		"touReconfigureFlag":        p.TOUReconfigureFlag,
		"touInfo":                   p.TOUInfo,
		"dstEnabledFlag":            p.DSTEnabledFlag,
		"demandResetFlag":           p.DemandResetFlag,
		"demandResetCount":          p.DemandResetCount,
		"lastDemandReset":           p.LastDemandReset,
		"clearBillingFlag":          p.ClearBillingFlag,
		"energy":                    p.Energy,
		"maxDemand":                 p.MaxDemand,
		"displayMode":               p.DisplayMode,
		"hangUpFlag":                p.HangUpFlag,
		"commTimeout":               p.CommTimeout,
		"programId":                 p.ProgramID,
		"serialNumber":              p.SerialNumber,
		"firmwareVersion":           p.FirmwareVersion,
		"softwareVersion":           p.SoftwareVersion,
		"errors":                    p.Errors,
	}
}

// 機種ごとにあったりなかったりする機能
type Capabilities struct {
	TertiaryPassword bool `yaml:"tertiaryPassword"`
	ModemPassword    bool `yaml:"modemPassword"`
	SeasonChange     bool `yaml:"seasonChange"`
}

// 長さが決まっているフィールド
var fixedLengths = map[string]uint16{
	"clock":           7,
	"lastDemandReset": 4,
	"touInfo":         34,
}

// Validate は欠けたフィールドや矛盾を調べる。
func (p *Profile) Validate() error {
	if p.Family == "" {
		return fmt.Errorf("%w: family is required", ErrInvalidProfile)
	}
	if p.DeviceType == "" {
		return fmt.Errorf("%w: %s: deviceType is required", ErrInvalidProfile, p.Family)
	}
	if p.MaxUploadSize <= 0 || p.MaxDownloadSize <= 0 {
		return fmt.Errorf("%w: %s: transfer sizes must be positive", ErrInvalidProfile, p.Family)
	}
	fields := p.Fields()
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f := fields[name]
		if f.Length == 0 {
			return fmt.Errorf("%w: %s: %s has zero length", ErrInvalidProfile, p.Family, name)
		}
		if want, ok := fixedLengths[name]; ok && f.Length != want {
			return fmt.Errorf("%w: %s: %s must be %d bytes", ErrInvalidProfile, p.Family, name, want)
		}
	}
	if int(p.CalendarLimit) <= p.TOUInfo.End() {
		return fmt.Errorf("%w: %s: calendarLimit %04x must follow touInfo", ErrInvalidProfile, p.Family, p.CalendarLimit)
	}
	if p.EnergyDecimals < 0 || p.EnergyDecimals > 9 {
		return fmt.Errorf("%w: %s: energyDecimals %d", ErrInvalidProfile, p.Family, p.EnergyDecimals)
	}
	if p.DSTYearLimit < 0 {
		return fmt.Errorf("%w: %s: dstYearLimit %d", ErrInvalidProfile, p.Family, p.DSTYearLimit)
	}
	return nil
}

// Parse はYAMLから機種プロファイルを読む。
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Load はファイルから機種プロファイルを読む。
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}
