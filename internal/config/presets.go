package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/lox/holdemgrid/internal/table"
)

// Preset is a table configuration a worker opens at startup, Count times.
type Preset struct {
	Name   string
	Count  int
	Config table.Config
}

type presetFile struct {
	Tables []tableBlock `hcl:"table,block"`
}

type tableBlock struct {
	Name            string       `hcl:"name,label"`
	Count           int          `hcl:"count,optional"`
	SmallBlind      int          `hcl:"small_blind"`
	BigBlind        int          `hcl:"big_blind"`
	Ante            int          `hcl:"ante,optional"`
	Seats           int          `hcl:"seats,optional"`
	MinBuyIn        int          `hcl:"min_buy_in,optional"`
	MaxBuyIn        int          `hcl:"max_buy_in,optional"`
	ActionTimeout   string       `hcl:"action_timeout,optional"`
	DisconnectGrace string       `hcl:"disconnect_grace,optional"`
	AutoStartDelay  string       `hcl:"auto_start_delay,optional"`
	BlindLevels     []levelBlock `hcl:"blind_level,block"`
}

type levelBlock struct {
	SmallBlind int `hcl:"small_blind"`
	BigBlind   int `hcl:"big_blind"`
	Ante       int `hcl:"ante,optional"`
	Hands      int `hcl:"hands,optional"`
}

// LoadPresets reads table presets from an HCL file. A missing file yields
// no presets.
func LoadPresets(filename string) ([]Preset, error) {
	src, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParsePresets(src, filename)
}

// ParsePresets decodes and validates presets from HCL source.
func ParsePresets(src []byte, filename string) ([]Preset, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var pf presetFile
	if diags := gohcl.DecodeBody(file.Body, nil, &pf); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	presets := make([]Preset, 0, len(pf.Tables))
	seen := make(map[string]bool, len(pf.Tables))
	for _, b := range pf.Tables {
		if seen[b.Name] {
			return nil, fmt.Errorf("table %q: defined twice", b.Name)
		}
		seen[b.Name] = true

		p, err := b.preset()
		if err != nil {
			return nil, fmt.Errorf("table %q: %w", b.Name, err)
		}
		presets = append(presets, p)
	}
	return presets, nil
}

func (b tableBlock) preset() (Preset, error) {
	cfg := table.Config{
		Name:           b.Name,
		SmallBlind:     b.SmallBlind,
		BigBlind:       b.BigBlind,
		Ante:           b.Ante,
		Seats:          b.Seats,
		MinBuyIn:       b.MinBuyIn,
		MaxBuyIn:       b.MaxBuyIn,
		AutoStartDelay: table.DefaultAutoStartDelay,
	}
	durations := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"action_timeout", b.ActionTimeout, &cfg.ActionTimeout},
		{"disconnect_grace", b.DisconnectGrace, &cfg.DisconnectGrace},
		{"auto_start_delay", b.AutoStartDelay, &cfg.AutoStartDelay},
	}
	for _, d := range durations {
		if d.src == "" {
			continue
		}
		v, err := time.ParseDuration(d.src)
		if err != nil {
			return Preset{}, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}
	for _, l := range b.BlindLevels {
		cfg.BlindSchedule = append(cfg.BlindSchedule, table.BlindLevel{
			SmallBlind: l.SmallBlind,
			BigBlind:   l.BigBlind,
			Ante:       l.Ante,
			Hands:      l.Hands,
		})
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Preset{}, err
	}

	count := b.Count
	if count == 0 {
		count = 1
	}
	if count < 0 {
		return Preset{}, fmt.Errorf("count must not be negative, got %d", count)
	}
	return Preset{Name: b.Name, Count: count, Config: cfg}, nil
}
