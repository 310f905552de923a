package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/yengalvez/hubs-cloud/internal/supervisor"
	"github.com/yengalvez/hubs-cloud/internal/supervisor/indexdb"
)

func main() {
	logger := log.New(os.Stdout, "[supervisor] ", log.LstdFlags|log.Lmicroseconds)

	port := envInt("PORT", 5001)
	accessKey := os.Getenv("BOT_ACCESS_KEY")
	autostart := strings.EqualFold(os.Getenv("RUNNER_AUTOSTART"), "true")
	runnerScript := os.Getenv("RUNNER_SCRIPT")
	baseURL := os.Getenv("HUBS_BASE_URL")
	if baseURL == "" {
		baseURL = "https://meta-hubs.org"
	}
	maxActive := envInt("MAX_ACTIVE_ROOMS", 1)
	maxBots := envInt("MAX_BOTS_PER_ROOM", 5)
	chatWindow := time.Duration(envInt("CHAT_RATE_LIMIT_MS", 700)) * time.Millisecond

	var index supervisor.EventSink
	if dbPath := os.Getenv("SUPERVISOR_DB"); dbPath != "" {
		idx, err := indexdb.Open(dbPath)
		if err != nil {
			logger.Fatalf("open index db: %v", err)
		}
		defer idx.Close()
		index = idx
		logger.Printf("lifecycle index at %s", dbPath)
	}

	mgr := supervisor.NewManager(supervisor.Options{
		MaxActiveRooms: maxActive,
		MaxBotsPerRoom: maxBots,
		Autostart:      autostart,
		Spawner: &supervisor.ProcessSpawner{
			Script:  runnerScript,
			BaseURL: baseURL,
			Logger:  logger,
		},
		Logger: logger,
		Index:  index,
	})
	defer mgr.Close()

	srv, err := supervisor.NewServer(mgr, accessKey, chatWindow, supervisor.ServerInfo{}, logger)
	if err != nil {
		logger.Fatalf("server: %v", err)
	}

	httpSrv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = httpSrv.Shutdown(ctx2)
	}()

	logger.Printf("listening on :%d (max_active_rooms=%d, autostart=%v)", port, maxActive, autostart)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
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
