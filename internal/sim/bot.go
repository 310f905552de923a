package sim

import (
	"github.com/yengalvez/hubs-cloud/internal/botcfg"
	"github.com/yengalvez/hubs-cloud/internal/mathx"
)

type botState int

const (
	stateIdle botState = iota
	stateWalk
)

// Segment is one straight-line move in server time. Dur == 0 freezes the bot
// at Start.
type Segment struct {
	Start mathx.Vec3
	End   mathx.Vec3
	T0    int64
	Dur   int64
	Yaw0  float64
	Yaw1  float64
}

// PositionAt integrates the segment at time now (epoch ms).
func (seg *Segment) PositionAt(now int64) mathx.Vec3 {
	alpha := 1.0
	if seg.Dur > 0 {
		alpha = float64(now-seg.T0) / float64(seg.Dur)
		if alpha < 0 {
			alpha = 0
		}
		if alpha > 1 {
			alpha = 1
		}
	} else if now <= seg.T0 {
		alpha = 0
	}
	return mathx.Lerp(seg.Start, seg.End, alpha)
}

type Destination struct {
	Name string
	Pos  mathx.Vec3
}

// Bot is the live record for one synthetic avatar.
type Bot struct {
	ID        string
	Index     int
	NetworkID string

	LastOwnerTime int64

	Pos    mathx.Vec3
	Home   mathx.Vec3
	YawDeg float64

	State       botState
	StateEndsAt int64
	Mobility    botcfg.Mobility

	// Destination is nil while idle; a wander target has an empty Name.
	Destination    *Destination
	ReservedTarget string
	Path           *Segment
}
