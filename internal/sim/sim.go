// Package sim animates a room's bot cohort: reconciliation against the
// desired config, idle/walk transitions, waypoint reservation, and entity
// broadcasts. All state is owned by the goroutine running Run; inbound
// channel callbacks post onto the inbox and are serialised with the tick.
package sim

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"sort"
	"time"

	"github.com/yengalvez/hubs-cloud/internal/botcfg"
	"github.com/yengalvez/hubs-cloud/internal/naf"
	"github.com/yengalvez/hubs-cloud/internal/phoenix"
	"github.com/yengalvez/hubs-cloud/internal/scene"
	"github.com/yengalvez/hubs-cloud/internal/sim/tuning"
)

type Clock interface {
	NowMS() int64
}

type Publisher interface {
	PublishNAF(payload any) error
	PublishNAFR(payload any) error
}

type AvatarSource interface {
	AvatarFor(n int) string
}

type Options struct {
	HubSID    string
	SessionID string

	Clock   Clock
	Pub     Publisher
	Avatars AvatarSource
	Scene   *scene.Map
	Tuning  tuning.Tuning

	// RaycastColliders gates the line-of-sight checks; off means every
	// path is treated as clear.
	RaycastColliders bool

	Config botcfg.Config
	Logger *log.Logger
	Rand   *rand.Rand
}

type Simulator struct {
	hubSID  string
	session string

	clock   Clock
	pub     Publisher
	avatars AvatarSource
	scene   *scene.Map
	tune    tuning.Tuning
	raycast bool
	log     *log.Logger
	rng     *rand.Rand

	cfg          botcfg.Config
	bots         map[string]*Bot
	reservations map[string]string // waypoint name -> bot id

	inbox chan func()

	lastReconcile int64
}

func New(opts Options) *Simulator {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Scene == nil {
		opts.Scene = scene.Empty()
	}
	s := &Simulator{
		hubSID:       opts.HubSID,
		session:      opts.SessionID,
		clock:        opts.Clock,
		pub:          opts.Pub,
		avatars:      opts.Avatars,
		scene:        opts.Scene,
		tune:         opts.Tuning,
		raycast:      opts.RaycastColliders,
		log:          opts.Logger,
		rng:          opts.Rand,
		cfg:          opts.Config,
		bots:         map[string]*Bot{},
		reservations: map[string]string{},
		inbox:        make(chan func(), 64),
	}
	s.cfg.Normalize(botcfg.MaxBots)
	return s
}

// Run owns all simulator state until ctx is done. The caller should invoke
// Shutdown afterwards for the final entity removals.
func (s *Simulator) Run(ctx context.Context) error {
	now := s.clock.NowMS()
	s.reconcile(now)
	s.lastReconcile = now

	ticker := time.NewTicker(time.Duration(s.tune.TickMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-s.inbox:
			fn()
		case <-ticker.C:
			s.step(s.clock.NowMS())
		}
	}
}

func (s *Simulator) step(now int64) {
	if now-s.lastReconcile >= int64(s.tune.ReconcileEveryMS) {
		s.reconcile(now)
		s.lastReconcile = now
	}

	for _, bot := range s.sortedBots() {
		if bot.Path != nil {
			bot.Pos = bot.Path.PositionAt(now)
		}
		switch bot.State {
		case stateIdle:
			if now >= bot.StateEndsAt {
				s.startWalking(bot, "", now)
			}
		case stateWalk:
			if now >= bot.StateEndsAt {
				s.setIdle(bot, now)
			}
		}
	}
}

// Command handles an inbound bot_command. Safe to call from any goroutine.
func (s *Simulator) Command(cmd phoenix.BotCommand) {
	s.post(func() {
		bot, ok := s.bots[cmd.BotID]
		if !ok || cmd.Type != "go_to_waypoint" {
			return
		}
		s.startWalking(bot, cmd.Waypoint, s.clock.NowMS())
	})
}

// HubRefresh swaps the desired config; the next reconciliation applies it.
func (s *Simulator) HubRefresh(userData json.RawMessage) {
	s.post(func() {
		cfg, ok := botcfg.FromUserData(userData)
		if !ok {
			return
		}
		s.cfg = cfg
	})
}

// PresenceJoin resyncs every bot to a newly seen session.
func (s *Simulator) PresenceJoin(sessionKey string) {
	s.post(func() {
		s.fullSync(s.clock.NowMS())
	})
}

// Shutdown publishes a remove for every bot. Call only after Run returned.
func (s *Simulator) Shutdown() {
	s.removeAll()
}

func (s *Simulator) post(fn func()) {
	select {
	case s.inbox <- fn:
	default:
		// Inbox saturated: drop rather than block the channel reader. A
		// dropped command, hub_refresh or presence resync is not replayed.
		if s.log != nil {
			s.log.Printf("sim inbox full, dropping event")
		}
	}
}

func (s *Simulator) sortedBots() []*Bot {
	out := make([]*Bot, 0, len(s.bots))
	for _, b := range s.bots {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (s *Simulator) fullSync(now int64) {
	for _, bot := range s.sortedBots() {
		msg := naf.CreateEntity(bot.NetworkID, s.session, bot.LastOwnerTime,
			s.currentPath(bot, now), s.infoComponent(bot))
		if err := s.pub.PublishNAF(msg); err != nil && s.log != nil {
			s.log.Printf("publish full sync %s: %v", bot.ID, err)
		}
	}
}

func (s *Simulator) currentPath(bot *Bot, now int64) naf.PathComponent {
	if bot.Path != nil {
		return pathComponent(bot.Path)
	}
	return naf.Freeze(bot.Pos.X, bot.Pos.Y, bot.Pos.Z, bot.YawDeg, now)
}

func (s *Simulator) infoComponent(bot *Bot) naf.InfoComponent {
	return naf.InfoComponent{
		BotID:       bot.ID,
		AvatarID:    s.avatars.AvatarFor(bot.Index),
		DisplayName: bot.ID,
		IsBot:       true,
	}
}

func pathComponent(seg *Segment) naf.PathComponent {
	return naf.PathComponent{
		SX: seg.Start.X, SY: seg.Start.Y, SZ: seg.Start.Z,
		EX: seg.End.X, EY: seg.End.Y, EZ: seg.End.Z,
		T0: seg.T0, Dur: seg.Dur,
		Yaw0: seg.Yaw0, Yaw1: seg.Yaw1,
	}
}
