package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/yengalvez/hubs-cloud/internal/avatars"
	"github.com/yengalvez/hubs-cloud/internal/botcfg"
	"github.com/yengalvez/hubs-cloud/internal/gltf"
	"github.com/yengalvez/hubs-cloud/internal/phoenix"
	"github.com/yengalvez/hubs-cloud/internal/publog"
	"github.com/yengalvez/hubs-cloud/internal/scene"
	"github.com/yengalvez/hubs-cloud/internal/sim"
	"github.com/yengalvez/hubs-cloud/internal/sim/tuning"
	"github.com/yengalvez/hubs-cloud/internal/timesync"
)

const raycastModeColliders = "spoke_colliders"

func main() {
	var (
		baseURL = flag.String("url", "https://meta-hubs.org", "hub base url")
		hubSID  = flag.String("room", "", "hub sid to join (required)")
		_       = flag.Bool("runner", false, "marks this process as a supervised runner")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[runner] ", log.LstdFlags|log.Lmicroseconds)

	if strings.TrimSpace(*hubSID) == "" {
		logger.Fatalf("missing --room")
	}

	tune, err := tuning.Load(os.Getenv("GHOST_TUNING"))
	if err != nil {
		logger.Printf("load tuning: %v (using defaults)", err)
		tune = tuning.Defaults()
	}
	if v := envInt("PATH_START_DELAY_MS", tune.PathStartDelayMS); v >= 0 {
		tune.PathStartDelayMS = v
	}
	if v := envInt("MIN_WALK_DURATION_MS", tune.MinWalkDurationMS); v > 0 {
		tune.MinWalkDurationMS = v
	}

	raycastMode := os.Getenv("GHOST_RAYCAST_MODE")
	if raycastMode == "" {
		raycastMode = raycastModeColliders
	}

	ctx, cancel := signalContext()
	defer cancel()

	client, info, err := phoenix.Dial(ctx, phoenix.Config{
		BaseURL:     *baseURL,
		HubSID:      *hubSID,
		AccessKey:   os.Getenv("BOT_ACCESS_KEY"),
		DisplayName: "bot-runner",
		Logger:      logger,
		OnFatal: func(err error) {
			logger.Printf("channel lost: %v", err)
			os.Exit(1)
		},
	})
	if err != nil {
		logger.Fatalf("join hub %s: %v", *hubSID, err)
	}
	logger.Printf("joined hub=%s session=%s", *hubSID, info.SessionID)

	hc := &http.Client{Timeout: 15 * time.Second}

	clock := timesync.New(*baseURL, hc, logger)
	clock.Prime(ctx)
	go clock.Run(ctx)

	catalog := avatars.New(*baseURL, hc, logger)
	if err := catalog.Refresh(ctx); err != nil {
		logger.Printf("avatar listing: %v", err)
	}
	go catalog.Run(ctx)

	sceneMap := scene.Empty()
	if info.SceneURL != "" {
		doc, err := gltf.FetchDocument(ctx, hc, info.SceneURL)
		if err != nil {
			logger.Printf("scene fetch: %v (bots will wander near origin)", err)
		} else if m, err := scene.Extract(doc); err != nil {
			logger.Printf("scene extract: %v (bots will wander near origin)", err)
		} else {
			sceneMap = m
			logger.Printf("scene: %d waypoints, %d spawn, %d patrol, %d colliders",
				len(m.AllWaypoints), len(m.SpawnPoints), len(m.PatrolPoints), len(m.Colliders))
		}
	} else {
		logger.Printf("hub has no scene model url")
	}

	cfg, _ := botcfg.FromUserData(info.UserData)

	var pub sim.Publisher = client
	var recorder *publog.Recorder
	if dir := os.Getenv("GHOST_PUBLOG_DIR"); dir != "" {
		recorder = publog.NewRecorder(client, dir)
		pub = recorder
	}

	simulator := sim.New(sim.Options{
		HubSID:           *hubSID,
		SessionID:        info.SessionID,
		Clock:            clock,
		Pub:              pub,
		Avatars:          catalog,
		Scene:            sceneMap,
		Tuning:           tune,
		RaycastColliders: raycastMode == raycastModeColliders,
		Config:           cfg,
		Logger:           logger,
	})

	client.OnCommand(simulator.Command)
	client.OnHubRefresh(simulator.HubRefresh)
	client.OnPresenceJoin(simulator.PresenceJoin)
	client.Start()

	_ = simulator.Run(ctx)

	// Clean shutdown: remove every bot, give the writer a beat to flush,
	// leave the channel, exit 0.
	simulator.Shutdown()
	time.Sleep(200 * time.Millisecond)
	if recorder != nil {
		_ = recorder.Close()
	}
	client.Leave()
	logger.Printf("shutdown complete")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
