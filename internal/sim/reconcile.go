package sim

import (
	"fmt"
	"math"

	"github.com/yengalvez/hubs-cloud/internal/botcfg"
	"github.com/yengalvez/hubs-cloud/internal/mathx"
	"github.com/yengalvez/hubs-cloud/internal/naf"
)

const (
	// Bots closer than this on the XZ plane count as conflicting at spawn.
	spawnConflictDist = 0.6
)

// reconcile makes the live bot set match the desired config: bots are keyed
// bot-1..bot-count, removals publish their entity remove, and every surviving
// record picks up the configured mobility.
func (s *Simulator) reconcile(now int64) {
	if !s.cfg.Enabled || s.cfg.Count <= 0 {
		s.removeAll()
		return
	}

	desired := s.cfg.Count
	if desired > botcfg.MaxBots {
		desired = botcfg.MaxBots
	}

	for id, bot := range s.bots {
		if bot.Index > desired {
			s.removeBot(id)
		}
	}
	for n := 1; n <= desired; n++ {
		id := fmt.Sprintf("bot-%d", n)
		if _, ok := s.bots[id]; !ok {
			s.spawn(n, now)
		}
	}

	// Movement already in flight completes at its old speed; only the
	// profile used for future segments changes.
	for _, bot := range s.bots {
		bot.Mobility = s.cfg.Mobility
	}
}

func (s *Simulator) spawn(n int, now int64) {
	base := mathx.Vec3{}
	pool := s.scene.SpawnPoints
	if len(pool) == 0 {
		pool = s.scene.PatrolPoints
	}
	if len(pool) > 0 {
		base = pool[(n-1)%len(pool)].Position
	}

	placed := make([]mathx.Vec3, 0, len(s.bots))
	for _, b := range s.bots {
		placed = append(placed, b.Pos)
	}
	pos := separateNearby(base, placed, n)

	id := fmt.Sprintf("bot-%d", n)
	profile := s.tune.Profile(s.cfg.Mobility)
	bot := &Bot{
		ID:            id,
		Index:         n,
		NetworkID:     naf.NetworkID(s.hubSID, id),
		LastOwnerTime: now,
		Pos:           pos,
		Home:          pos,
		YawDeg:        s.rng.Float64() * 360,
		State:         stateIdle,
		StateEndsAt:   now + int64(profile.InitialIdleBaseMS) + int64(s.rng.Intn(profile.InitialIdleJitterMS)),
		Mobility:      s.cfg.Mobility,
	}
	s.bots[id] = bot

	msg := naf.CreateEntity(bot.NetworkID, s.session, bot.LastOwnerTime,
		naf.Freeze(pos.X, pos.Y, pos.Z, bot.YawDeg, now), s.infoComponent(bot))
	if err := s.pub.PublishNAF(msg); err != nil && s.log != nil {
		s.log.Printf("publish create %s: %v", id, err)
	}
}

func (s *Simulator) removeBot(id string) {
	bot, ok := s.bots[id]
	if !ok {
		return
	}
	if bot.ReservedTarget != "" {
		delete(s.reservations, bot.ReservedTarget)
	}
	delete(s.bots, id)
	if err := s.pub.PublishNAF(naf.RemoveEntity(bot.NetworkID)); err != nil && s.log != nil {
		s.log.Printf("publish remove %s: %v", id, err)
	}
}

func (s *Simulator) removeAll() {
	for _, bot := range s.sortedBots() {
		s.removeBot(bot.ID)
	}
}

// separateNearby nudges a spawn target away from already-placed bots. The
// first bot never moves; later bots shift radially by an index-derived angle
// when at least one placed bot sits within the conflict distance.
func separateNearby(target mathx.Vec3, placed []mathx.Vec3, n int) mathx.Vec3 {
	if n < 2 {
		return target
	}
	conflicts := 0
	for _, p := range placed {
		if mathx.DistXZ(target, p) <= spawnConflictDist {
			conflicts++
		}
	}
	if conflicts == 0 {
		return target
	}
	angle := float64(n-1) * math.Pi / 3
	radius := 0.8 + math.Min(float64(conflicts), 2)*0.2
	return mathx.Vec3{
		X: target.X + math.Cos(angle)*radius,
		Y: target.Y,
		Z: target.Z + math.Sin(angle)*radius,
	}
}
