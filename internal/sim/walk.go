package sim

import (
	"math"
	"strings"

	"github.com/yengalvez/hubs-cloud/internal/mathx"
	"github.com/yengalvez/hubs-cloud/internal/naf"
	"github.com/yengalvez/hubs-cloud/internal/scene"
)

const (
	losEps = 0.1

	// Targets closer than this are not worth a walk segment.
	abortDistance = 0.08
	abortIdleMS   = 800

	// XZ distance² below which a patrol point counts as "already here".
	patrolTooCloseSq = 0.04

	patrolProbeLimit = 8

	wanderRadiusMin = 0.8
	wanderRadiusMax = 2.0
)

// startWalking plans the bot's next segment. An empty desiredName patrols or
// wanders; a commanded name that is unknown or line-of-sight blocked leaves
// the bot in its previous state.
func (s *Simulator) startWalking(bot *Bot, desiredName string, now int64) {
	if bot.Path != nil {
		bot.Pos = bot.Path.PositionAt(now)
	}

	var target *scene.Waypoint
	if desiredName != "" {
		wp, ok := s.scene.WaypointByName(desiredName)
		if !ok {
			return
		}
		if !s.pathClear(bot.Pos, wp.Position) {
			if s.log != nil {
				s.log.Printf("%s: path to %q blocked", bot.ID, wp.Name)
			}
			return
		}
		target = &wp
	} else {
		target = s.pickPatrolPoint(bot)
	}

	var targetName string
	var targetPos mathx.Vec3
	if target != nil {
		targetName = target.Name
		targetPos = target.Position
	} else {
		angle := s.rng.Float64() * 2 * math.Pi
		radius := wanderRadiusMin + s.rng.Float64()*(wanderRadiusMax-wanderRadiusMin)
		targetPos = mathx.Vec3{
			X: bot.Home.X + math.Cos(angle)*radius,
			Y: bot.Pos.Y,
			Z: bot.Home.Z + math.Sin(angle)*radius,
		}
	}

	if targetName != "" {
		if bot.ReservedTarget != "" {
			delete(s.reservations, bot.ReservedTarget)
		}
		s.reservations[targetName] = bot.ID
		bot.ReservedTarget = targetName
	} else if bot.ReservedTarget != "" {
		delete(s.reservations, bot.ReservedTarget)
		bot.ReservedTarget = ""
	}

	// Spawn-time separation applies to placed cohorts only; for walk
	// targets the placed set is deliberately empty.
	targetPos = separateNearby(targetPos, nil, bot.Index)

	dx := targetPos.X - bot.Pos.X
	dz := targetPos.Z - bot.Pos.Z
	dist := math.Hypot(dx, dz)
	if dist <= abortDistance {
		bot.State = stateIdle
		bot.Path = nil
		bot.StateEndsAt = now + abortIdleMS
		return
	}

	profile := s.tune.Profile(bot.Mobility)
	speed := math.Max(0.05, profile.SpeedMPS)
	dur := int64(math.Max(float64(s.tune.MinWalkDurationMS), 1000*dist/speed))
	t0 := now + int64(s.tune.PathStartDelayMS)
	yaw1 := mathx.NormalizeDeg(math.Atan2(dx, dz) * 180 / math.Pi)

	seg := &Segment{
		Start: bot.Pos,
		End:   targetPos,
		T0:    t0,
		Dur:   dur,
		Yaw0:  bot.YawDeg,
		Yaw1:  yaw1,
	}
	bot.State = stateWalk
	bot.Destination = &Destination{Name: targetName, Pos: targetPos}
	bot.Path = seg
	bot.StateEndsAt = t0 + dur
	bot.YawDeg = yaw1

	msg := naf.UpdateEntity(bot.NetworkID, s.session, bot.LastOwnerTime, pathComponent(seg))
	if err := s.pub.PublishNAFR(msg); err != nil && s.log != nil {
		s.log.Printf("publish path %s: %v", bot.ID, err)
	}
}

// setIdle parks the bot where it is and schedules the next walk.
func (s *Simulator) setIdle(bot *Bot, now int64) {
	if bot.Path != nil {
		bot.Pos = bot.Path.PositionAt(now)
	}
	bot.Destination = nil
	if bot.ReservedTarget != "" {
		delete(s.reservations, bot.ReservedTarget)
		bot.ReservedTarget = ""
	}
	bot.Path = nil
	bot.State = stateIdle

	profile := s.tune.Profile(bot.Mobility)
	window := profile.IdleMaxMS - profile.IdleMinMS
	if window <= 0 {
		window = 1
	}
	bot.StateEndsAt = now + int64(profile.IdleMinMS) + int64(s.rng.Intn(window))

	msg := naf.UpdateEntity(bot.NetworkID, s.session, bot.LastOwnerTime,
		naf.Freeze(bot.Pos.X, bot.Pos.Y, bot.Pos.Z, bot.YawDeg, now))
	if err := s.pub.PublishNAFR(msg); err != nil && s.log != nil {
		s.log.Printf("publish idle %s: %v", bot.ID, err)
	}
}

// pickPatrolPoint selects the next destination: skip the bot's own current
// destination, waypoints reserved by others, and waypoints it is already
// standing on; relax the last two constraints when nothing remains.
func (s *Simulator) pickPatrolPoint(bot *Bot) *scene.Waypoint {
	pts := s.scene.PatrolPoints
	if len(pts) == 0 {
		return nil
	}

	curName := ""
	if bot.Destination != nil {
		curName = strings.ToLower(bot.Destination.Name)
	}

	var strict, relaxed []scene.Waypoint
	for _, wp := range pts {
		if curName != "" && strings.ToLower(wp.Name) == curName {
			continue
		}
		relaxed = append(relaxed, wp)
		if owner, ok := s.reservations[wp.Name]; ok && owner != bot.ID {
			continue
		}
		if mathx.DistSqXZ(bot.Pos, wp.Position) <= patrolTooCloseSq {
			continue
		}
		strict = append(strict, wp)
	}

	pool := strict
	if len(pool) == 0 {
		pool = relaxed
	}
	if len(pool) == 0 {
		return nil
	}

	shuffled := make([]scene.Waypoint, len(pool))
	copy(shuffled, pool)
	s.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	probes := len(shuffled)
	if probes > patrolProbeLimit {
		probes = patrolProbeLimit
	}
	for i := 0; i < probes; i++ {
		if s.pathClear(bot.Pos, shuffled[i].Position) {
			return &shuffled[i]
		}
	}
	if len(relaxed) == 0 {
		return nil
	}
	wp := relaxed[s.rng.Intn(len(relaxed))]
	return &wp
}

func (s *Simulator) pathClear(from, to mathx.Vec3) bool {
	if !s.raycast {
		return true
	}
	return scene.IsPathClear(from, to, s.scene.Colliders, losEps)
}
