// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package schedule

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DSTPair は一年分の夏時間の開始日と終了日。
type DSTPair struct {
	Year int  `yaml:"year"`
	To   Date `yaml:"to"`
	From Date `yaml:"from"`
}

// DST はDSTスケジュールファイルの内容。
type DST struct {
	Name  string    `yaml:"name"`
	Years []DSTPair `yaml:"years"`
}

// Pair はその年の開始日と終了日を返す。
func (d *DST) Pair(year int) (DSTPair, bool) {
	if d == nil {
		return DSTPair{}, false
	}
	for _, p := range d.Years {
		if p.Year == year {
			return p, true
		}
	}
	return DSTPair{}, false
}

func (d *DST) Validate() error {
	if len(d.Years) == 0 {
		return fmt.Errorf("%w: no years", ErrDSTInvalid)
	}
	seen := map[int]bool{}
	for _, p := range d.Years {
		if seen[p.Year] {
			return fmt.Errorf("%w: duplicate year %d", ErrDSTInvalid, p.Year)
		}
		seen[p.Year] = true
		for _, date := range []Date{p.To, p.From} {
			if !date.Valid() || date.Year != p.Year {
				return fmt.Errorf("%w: year %d: date %v", ErrDSTInvalid, p.Year, date.Date)
			}
		}
		if p.To == p.From {
			return fmt.Errorf("%w: year %d: to and from are the same day", ErrDSTInvalid, p.Year)
		}
	}
	return nil
}

// ParseDST はYAMLからDSTスケジュールを読む。
func ParseDST(data []byte) (*DST, error) {
	var d DST
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDSTInvalid, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// LoadDST はファイルからDSTスケジュールを読む。
func LoadDST(path string) (*DST, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := ParseDST(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}
