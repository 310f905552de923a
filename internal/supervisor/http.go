package supervisor

import (
	"embed"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/yengalvez/hubs-cloud/internal/botcfg"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const accessKeyHeader = "x-ret-bot-access-key"

// ServerInfo carries the health fields owned by the wider deployment rather
// than the admission manager.
type ServerInfo struct {
	LLMEnabled bool
	Model      string
}

type Server struct {
	mgr        *Manager
	accessKey  string
	chatWindow time.Duration
	info       ServerInfo
	log        *log.Logger

	roomConfigSchema *jsonschema.Schema
	roomStopSchema   *jsonschema.Schema
	chatSchema       *jsonschema.Schema
}

func NewServer(mgr *Manager, accessKey string, chatWindow time.Duration, info ServerInfo, logger *log.Logger) (*Server, error) {
	s := &Server{
		mgr:        mgr,
		accessKey:  accessKey,
		chatWindow: chatWindow,
		info:       info,
		log:        logger,
	}
	var err error
	if s.roomConfigSchema, err = compileSchema("room-config.schema.json"); err != nil {
		return nil, err
	}
	if s.roomStopSchema, err = compileSchema("room-stop.schema.json"); err != nil {
		return nil, err
	}
	if s.chatSchema, err = compileSchema("chat.schema.json"); err != nil {
		return nil, err
	}
	return s, nil
}

func compileSchema(name string) (*jsonschema.Schema, error) {
	raw, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	schema, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return schema, nil
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/internal/bots/room-config", s.withAuth(s.handleRoomConfig))
	mux.HandleFunc("/internal/bots/room-stop", s.withAuth(s.handleRoomStop))
	mux.HandleFunc("/internal/bots/chat", s.withAuth(s.handleChat))
	return mux
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.accessKey != "" && r.Header.Get(accessKeyHeader) != s.accessKey {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.mgr.Health()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                true,
		"rooms":             h.Rooms,
		"active_rooms":      h.ActiveRooms,
		"queued_rooms":      h.QueuedRooms,
		"max_active_rooms":  h.MaxActiveRooms,
		"max_bots_per_room": h.MaxBotsPerRoom,
		"llm_enabled":       s.info.LLMEnabled,
		"model":             s.info.Model,
		"active_hubs":       h.ActiveHubs,
		"queued_hubs":       h.QueuedHubs,
	})
}

type roomConfigRequest struct {
	HubSID string        `json:"hub_sid"`
	Bots   botcfg.Config `json:"bots"`
}

func (s *Server) handleRoomConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "post required")
		return
	}
	var req roomConfigRequest
	if !s.decodeValidated(w, r, s.roomConfigSchema, &req) {
		return
	}
	bots, state := s.mgr.RoomConfig(req.HubSID, req.Bots)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"hub_sid":      req.HubSID,
		"bots":         bots,
		"runner_state": state,
	})
}

type roomStopRequest struct {
	HubSID string `json:"hub_sid"`
}

func (s *Server) handleRoomStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "post required")
		return
	}
	var req roomStopRequest
	if !s.decodeValidated(w, r, s.roomStopSchema, &req) {
		return
	}
	state := s.mgr.RoomStop(req.HubSID)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"hub_sid":      req.HubSID,
		"runner_state": state,
	})
}

type chatRequest struct {
	HubSID  string          `json:"hub_sid"`
	BotID   string          `json:"bot_id"`
	Message string          `json:"message"`
	Context json.RawMessage `json:"context"`
}

// handleChat validates and rate-limits the chat boundary. The LLM responder
// is a separate deployment concern; without one the endpoint answers with no
// action so callers degrade gracefully.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "post required")
		return
	}
	var req chatRequest
	if !s.decodeValidated(w, r, s.chatSchema, &req) {
		return
	}
	if !s.mgr.AllowChat(req.HubSID, s.chatWindow) {
		writeError(w, http.StatusTooManyRequests, "rate_limited")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reply":  "",
		"action": nil,
	})
}

// decodeValidated parses the body, checks it against the schema, and decodes
// into dst. It writes the 400 itself and returns false on any failure.
func (s *Server) decodeValidated(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, dst any) bool {
	var generic any
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&generic); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := schema.Validate(generic); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return false
	}
	raw, err := json.Marshal(generic)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
