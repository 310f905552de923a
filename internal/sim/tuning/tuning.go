// Package tuning holds the runner's motion parameters: per-mobility speeds
// and idle windows, plus the path timing knobs.
package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yengalvez/hubs-cloud/internal/botcfg"
)

type Profile struct {
	SpeedMPS            float64 `yaml:"speed_mps"`
	IdleMinMS           int     `yaml:"idle_min_ms"`
	IdleMaxMS           int     `yaml:"idle_max_ms"`
	InitialIdleBaseMS   int     `yaml:"initial_idle_base_ms"`
	InitialIdleJitterMS int     `yaml:"initial_idle_jitter_ms"`
}

type Tuning struct {
	PathStartDelayMS  int `yaml:"path_start_delay_ms"`
	MinWalkDurationMS int `yaml:"min_walk_duration_ms"`
	TickMS            int `yaml:"tick_ms"`
	ReconcileEveryMS  int `yaml:"reconcile_every_ms"`

	Profiles map[string]Profile `yaml:"profiles"`
}

func Defaults() Tuning {
	return Tuning{
		PathStartDelayMS:  450,
		MinWalkDurationMS: 600,
		TickMS:            100,
		ReconcileEveryMS:  3000,
		Profiles: map[string]Profile{
			string(botcfg.MobilityLow):    {SpeedMPS: 0.45, IdleMinMS: 8000, IdleMaxMS: 22000, InitialIdleBaseMS: 2000, InitialIdleJitterMS: 3000},
			string(botcfg.MobilityMedium): {SpeedMPS: 0.75, IdleMinMS: 4500, IdleMaxMS: 14000, InitialIdleBaseMS: 1200, InitialIdleJitterMS: 1300},
			string(botcfg.MobilityHigh):   {SpeedMPS: 1.05, IdleMinMS: 2500, IdleMaxMS: 8000, InitialIdleBaseMS: 800, InitialIdleJitterMS: 1000},
		},
	}
}

// Load reads a yaml override on top of the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	return t, nil
}

func (t *Tuning) Normalize() {
	d := Defaults()
	if t.PathStartDelayMS < 0 {
		t.PathStartDelayMS = d.PathStartDelayMS
	}
	if t.MinWalkDurationMS <= 0 {
		t.MinWalkDurationMS = d.MinWalkDurationMS
	}
	if t.TickMS <= 0 {
		t.TickMS = d.TickMS
	}
	if t.ReconcileEveryMS <= 0 {
		t.ReconcileEveryMS = d.ReconcileEveryMS
	}
	if t.Profiles == nil {
		t.Profiles = d.Profiles
		return
	}
	for name, def := range d.Profiles {
		p, ok := t.Profiles[name]
		if !ok {
			t.Profiles[name] = def
			continue
		}
		if p.SpeedMPS <= 0 {
			p.SpeedMPS = def.SpeedMPS
		}
		if p.IdleMinMS <= 0 {
			p.IdleMinMS = def.IdleMinMS
		}
		if p.IdleMaxMS <= p.IdleMinMS {
			p.IdleMaxMS = p.IdleMinMS + (def.IdleMaxMS - def.IdleMinMS)
		}
		if p.InitialIdleBaseMS <= 0 {
			p.InitialIdleBaseMS = def.InitialIdleBaseMS
		}
		if p.InitialIdleJitterMS <= 0 {
			p.InitialIdleJitterMS = def.InitialIdleJitterMS
		}
		t.Profiles[name] = p
	}
}

// Profile resolves a mobility to its motion profile, falling back to medium.
func (t Tuning) Profile(m botcfg.Mobility) Profile {
	if p, ok := t.Profiles[string(m)]; ok {
		return p
	}
	return t.Profiles[string(botcfg.MobilityMedium)]
}
