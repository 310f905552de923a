// Package botcfg is the per-room bot configuration shared by the supervisor
// API and the runner's hub_refresh handler.
package botcfg

import "encoding/json"

type Mobility string

const (
	MobilityLow    Mobility = "low"
	MobilityMedium Mobility = "medium"
	MobilityHigh   Mobility = "high"
)

// MaxBots is the hard per-room ceiling; supervisor deployments may configure
// a lower one.
const MaxBots = 10

func ParseMobility(s string) Mobility {
	switch Mobility(s) {
	case MobilityLow, MobilityMedium, MobilityHigh:
		return Mobility(s)
	default:
		return MobilityMedium
	}
}

type Config struct {
	Enabled     bool     `json:"enabled"`
	Count       int      `json:"count"`
	Mobility    Mobility `json:"mobility"`
	ChatEnabled bool     `json:"chat_enabled"`
}

// Normalize clamps the count into [0, maxCount] and defaults the mobility.
func (c *Config) Normalize(maxCount int) {
	if maxCount <= 0 || maxCount > MaxBots {
		maxCount = MaxBots
	}
	if c.Count < 0 {
		c.Count = 0
	}
	if c.Count > maxCount {
		c.Count = maxCount
	}
	c.Mobility = ParseMobility(string(c.Mobility))
}

// FromUserData extracts the bots block from a hub's user_data. Absent fields
// keep their zero value; mobility defaults to medium. ok is false when no
// bots block is present.
func FromUserData(raw json.RawMessage) (Config, bool) {
	if len(raw) == 0 {
		return Config{Mobility: MobilityMedium}, false
	}
	var ud struct {
		Bots *struct {
			Enabled     *bool   `json:"enabled"`
			Count       *int    `json:"count"`
			Mobility    *string `json:"mobility"`
			ChatEnabled *bool   `json:"chat_enabled"`
		} `json:"bots"`
	}
	if err := json.Unmarshal(raw, &ud); err != nil || ud.Bots == nil {
		return Config{Mobility: MobilityMedium}, false
	}

	cfg := Config{Mobility: MobilityMedium}
	if ud.Bots.Enabled != nil {
		cfg.Enabled = *ud.Bots.Enabled
	}
	if ud.Bots.Count != nil {
		cfg.Count = *ud.Bots.Count
	}
	if ud.Bots.Mobility != nil {
		cfg.Mobility = ParseMobility(*ud.Bots.Mobility)
	}
	if ud.Bots.ChatEnabled != nil {
		cfg.ChatEnabled = *ud.Bots.ChatEnabled
	}
	cfg.Normalize(MaxBots)
	return cfg, true
}
