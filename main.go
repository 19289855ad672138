// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/ak1211/scsmeter/internal/codec"
	"github.com/ak1211/scsmeter/internal/profile"
	"github.com/ak1211/scsmeter/internal/schedule"
	"github.com/ak1211/scsmeter/internal/scs"
	"github.com/ak1211/scsmeter/internal/session"
)

// 設定
type Settings struct {
	Device      string   `json:"Device"`
	Baud        int      `json:"Baud"`
	ReadTimeout string   `json:"ReadTimeout"`
	Profile     string   `json:"Profile"`
	Passwords   []string `json:"Passwords"`
	DeviceType  string   `json:"DeviceType"`
	Location    string   `json:"Location"`
}

const DefaultSerialDevice string = "/dev/ttyUSB0"

// 設定ファイルを上書きする環境変数
const (
	EnvDevice    = "SCSMETER_DEVICE"
	EnvBaud      = "SCSMETER_BAUD"
	EnvPasswords = "SCSMETER_PASSWORDS"
)

var ErrSettings = errors.New("invalid settings")

// 設定ファイルに書かれていない項目の値
func defaultSettings() Settings {
	return Settings{
		Device:      DefaultSerialDevice,
		Baud:        9600,
		ReadTimeout: "1s",
		Location:    "Local",
	}
}

// 設定ファイルを読む
func loadSettings(settingsFileName string) (Settings, error) {
	jsonbytes, err := os.ReadFile(settingsFileName)
	if err != nil {
		return Settings{}, err
	}
	settings := defaultSettings()
	if err := json.Unmarshal(jsonbytes, &settings); err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrSettings, err)
	}
	if settings.Profile == "" {
		return Settings{}, fmt.Errorf("%w: Profile is required", ErrSettings)
	}
	if settings.Baud <= 0 {
		return Settings{}, fmt.Errorf("%w: Baud %d", ErrSettings, settings.Baud)
	}
	if _, err := settings.readTimeout(); err != nil {
		return Settings{}, err
	}
	if _, err := settings.location(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func (s Settings) readTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(s.ReadTimeout)
	if err != nil {
		return 0, fmt.Errorf("%w: ReadTimeout: %w", ErrSettings, err)
	}
	return d, nil
}

func (s Settings) location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: Location: %w", ErrSettings, err)
	}
	return loc, nil
}

// 環境変数とenvファイルで設定を上書きする。環境変数が優先。
func overrideFromEnv(settings Settings, envFileName string) (Settings, error) {
	file := map[string]string{}
	if envFileName != "" {
		m, err := godotenv.Read(envFileName)
		switch {
		case err == nil:
			file = m
		case errors.Is(err, fs.ErrNotExist):
			slog.Debug("godotenv.Read", slog.String("file", envFileName), "err", err)
		default:
			return Settings{}, fmt.Errorf("%w: %s: %w", ErrSettings, envFileName, err)
		}
	}
	lookup := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return file[key]
	}
	if v := lookup(EnvDevice); v != "" {
		settings.Device = v
	}
	if v := lookup(EnvBaud); v != "" {
		baud, err := strconv.Atoi(v)
		if err != nil || baud <= 0 {
			return Settings{}, fmt.Errorf("%w: %s=%q", ErrSettings, EnvBaud, v)
		}
		settings.Baud = baud
	}
	if v := lookup(EnvPasswords); v != "" {
		settings.Passwords = strings.Split(v, ",")
	}
	return settings, nil
}

// 機種プロファイルを読む。設定ファイルに機種の種別があればそちらを使う。
func loadProfile(settings Settings) (*profile.Profile, error) {
	p, err := profile.Load(settings.Profile)
	if err != nil {
		return nil, err
	}
	if settings.DeviceType != "" {
		p.DeviceType = settings.DeviceType
	}
	return p, nil
}

// 16進数または10進数のアドレス
func parseAddress(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("address %q: %w", s, err)
	}
	return uint16(v), nil
}

// 全体のフラグ
type globalOptions struct {
	settingsFileName string
	envFileName      string
	serialDevice     string
}

// メーターにつないでログオンしてからfnを呼ぶ。書き込む操作ならパスワードも通す。
func withSession(g globalOptions, secured bool, fn func(s *session.Session) error) error {
	settings, err := loadSettings(g.settingsFileName)
	if err != nil {
		slog.Error("loadSettings", "err", err)
		return err
	}
	if settings, err = overrideFromEnv(settings, g.envFileName); err != nil {
		slog.Error("overrideFromEnv", "err", err)
		return err
	}
	if g.serialDevice != "" {
		settings.Device = g.serialDevice
	}
	p, err := loadProfile(settings)
	if err != nil {
		slog.Error("loadProfile", "err", err)
		return err
	}
	readTimeout, _ := settings.readTimeout()
	loc, _ := settings.location()

	transport, stream, err := scs.OpenSerial(scs.SerialConfig{
		Name:            settings.Device,
		Baud:            settings.Baud,
		ReadTimeout:     readTimeout,
		MaxUploadSize:   p.MaxUploadSize,
		MaxDownloadSize: p.MaxDownloadSize,
	}, slog.Default())
	if err != nil {
		slog.Error("OpenSerial", "err", err)
		return err
	}
	defer stream.Close()

	s := session.New(transport, p, session.Options{Logger: slog.Default(), Location: loc})
	if err := s.Logon(); err != nil {
		return failed("Logon", err)
	}
	defer s.Logoff()
	slog.Info("Logon",
		slog.String("unitId", s.UnitID()),
		slog.String("deviceType", s.Identity().DeviceType),
		slog.String("family", p.Family))
	if secured {
		if err := s.Security(settings.Passwords); err != nil {
			return failed("Security", err)
		}
	}
	if err := fn(s); err != nil {
		return failed("command", err)
	}
	return nil
}

// 失敗を結果コードと一緒に記録する
func failed(op string, err error) error {
	slog.Error(op, slog.String("result", session.ResultOf(err).String()), "err", err)
	return err
}

func main() {
	var (
		g           globalOptions
		verbose     bool
		offset      time.Duration
		touFileName string
		dstFileName string
		displayMode int
		address     string
		length      int
	)
	run := func(secured bool, fn func(s *session.Session) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			return withSession(g, secured, fn)
		}
	}
	loadDST := func() (*schedule.DST, error) {
		if dstFileName == "" {
			return nil, nil
		}
		return schedule.LoadDST(dstFileName)
	}
	app := &cli.App{
		Name:    "scsmeter",
		Usage:   "SCSプロトコルで電力量計を読み書きする",
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "settings",
				Aliases:     []string{"S"},
				Usage:       "設定ファイル名",
				Destination: &g.settingsFileName,
				Value:       "settings.json",
			},
			&cli.StringFlag{
				Name:        "env",
				Aliases:     []string{"E"},
				Usage:       "設定を上書きするenvファイル名",
				Destination: &g.envFileName,
				Value:       "scsmeter.env",
			},
			&cli.StringFlag{
				Name:        "device",
				Aliases:     []string{"D"},
				Usage:       "シリアルデバイス名(設定ファイルより優先)",
				Destination: &g.serialDevice,
			},
			&cli.BoolFlag{
				Name:        "verbose",
				Usage:       "電文の詳細を表示する",
				Destination: &verbose,
			},
		},
		Before: func(c *cli.Context) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(
				slog.New(
					slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "identify",
				Usage:  "メーターを識別する",
				Action: run(false, reportIdentity),
			},
			{
				Name:  "read",
				Usage: "レジスタを読む",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "address",
						Aliases:     []string{"a"},
						Usage:       "指定すればこのアドレスから生のバイト列を読む",
						Destination: &address,
					},
					&cli.IntFlag{
						Name:        "length",
						Aliases:     []string{"n"},
						Usage:       "読むバイト数",
						Destination: &length,
						Value:       1,
					},
				},
				Action: run(false, func(s *session.Session) error {
					if address == "" {
						return reportRegisters(s)
					}
					at, err := parseAddress(address)
					if err != nil {
						return err
					}
					data, err := s.ReadRegister(at, length)
					if err != nil {
						return err
					}
					reportRaw(at, data)
					return nil
				}),
			},
			{
				Name:  "adjust-clock",
				Usage: "メーターの時計をずらす",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:        "offset",
						Usage:       "ずらす量(例: 90s, -2m)",
						Destination: &offset,
						Required:    true,
					},
				},
				Action: run(true, func(s *session.Session) error {
					return s.AdjustClock(offset)
				}),
			},
			{
				Name:  "reconfigure-tou",
				Usage: "TOU暦を書き換える",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "tou",
						Usage:       "TOUスケジュールファイル名",
						Destination: &touFileName,
						Required:    true,
					},
					&cli.StringFlag{
						Name:        "dst",
						Usage:       "DSTファイル名",
						Destination: &dstFileName,
					},
				},
				Action: func(c *cli.Context) error {
					tf, err := schedule.LoadTOU(touFileName)
					if err != nil {
						return failed("LoadTOU", err)
					}
					dst, err := loadDST()
					if err != nil {
						return failed("LoadDST", err)
					}
					return withSession(g, true, func(s *session.Session) error {
						outcome, err := s.ReconfigureTOU(tf, dst)
						if err != nil {
							return err
						}
						slog.Info("reconfigure-tou", slog.String("outcome", outcome.String()))
						return nil
					})
				},
			},
			{
				Name:  "update-dst",
				Usage: "TOU暦の夏時間の日付だけを書き換える",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "dst",
						Usage:       "DSTファイル名",
						Destination: &dstFileName,
						Required:    true,
					},
				},
				Action: func(c *cli.Context) error {
					dst, err := loadDST()
					if err != nil {
						return failed("LoadDST", err)
					}
					return withSession(g, true, func(s *session.Session) error {
						outcome, err := s.UpdateDST(dst)
						if err != nil {
							return err
						}
						slog.Info("update-dst", slog.String("outcome", outcome.String()))
						return nil
					})
				},
			},
			{
				Name:   "reset-demand",
				Usage:  "デマンドをリセットする",
				Action: run(true, func(s *session.Session) error { return s.ResetDemand() }),
			},
			{
				Name:   "clear-billing",
				Usage:  "請求データを消す",
				Action: run(true, func(s *session.Session) error { return s.ClearBillingData() }),
			},
			{
				Name:  "display-mode",
				Usage: "表示モードを切り替える",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:        "mode",
						Usage:       "表示モード(0～255)",
						Destination: &displayMode,
						Required:    true,
						Action: func(ctx *cli.Context, v int) error {
							if v < 0 || v > 0xff {
								return fmt.Errorf("表示モードは0～255です")
							}
							return nil
						},
					},
				},
				Action: run(true, func(s *session.Session) error {
					return s.ChangeDisplayMode(uint8(displayMode))
				}),
			},
			{
				Name:  "dst-dates",
				Usage: "TOU暦の夏時間の切り替え日を表示する",
				Action: run(false, func(s *session.Session) error {
					dates, err := s.DSTDates()
					if err != nil {
						return err
					}
					reportDSTDates(dates)
					return nil
				}),
			},
			{
				Name:  "tou-schedule",
				Usage: "TOU暦を表示する",
				Action: run(false, func(s *session.Session) error {
					c, err := s.TOUSchedule()
					if err != nil {
						return err
					}
					now, err := s.DeviceTime()
					if err != nil {
						return err
					}
					reportSchedule(c, codec.DateOf(now))
					return nil
				}),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("app.Run", "err", err)
		os.Exit(1)
	}
}
