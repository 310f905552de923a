// Package phoenix is a typed client for the hub's realtime channel. It speaks
// the V2 array serializer ([join_ref, ref, topic, event, payload]) over a
// single websocket, multiplexing the room topic and heartbeats.
package phoenix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	socketPath        = "/socket/websocket"
	serializerVsn     = "2.0.0"
	heartbeatInterval = 30 * time.Second
	writeTimeout      = 5 * time.Second
	readTimeout       = 60 * time.Second
	joinTimeout       = 10 * time.Second
	outQueue          = 64
)

var ErrJoinRejected = errors.New("channel join rejected")

// BotCommand is an inbound chat-subsystem command addressed to one bot.
type BotCommand struct {
	BotID    string `json:"bot_id"`
	Type     string `json:"type"`
	Waypoint string `json:"waypoint"`
}

// JoinInfo is what the hub reports back on a successful channel join.
type JoinInfo struct {
	SessionID string
	HubSID    string
	SceneURL  string
	UserData  json.RawMessage
}

type Config struct {
	BaseURL     string
	HubSID      string
	AccessKey   string
	DisplayName string
	Logger      *log.Logger

	// OnFatal fires once on any socket error or close after the join;
	// the process is expected to exit non-zero so the supervisor restarts it.
	OnFatal func(error)
}

type Client struct {
	cfg  Config
	conn *websocket.Conn
	log  *log.Logger

	topic   string
	joinRef string
	session string

	out    chan []byte
	done   chan struct{}
	fatal  sync.Once
	refSeq int64
	refMu  sync.Mutex

	handlerMu      sync.Mutex
	onCommand      func(BotCommand)
	onHubRefresh   func(userData json.RawMessage)
	onPresenceJoin func(sessionKey string)

	present map[string]bool
}

// Dial connects the socket and joins hub:<hub_sid> synchronously. Event
// dispatch does not begin until Start is called, so handlers can be installed
// in between.
func Dial(ctx context.Context, cfg Config) (*Client, *JoinInfo, error) {
	wsURL, err := socketURL(cfg.BaseURL)
	if err != nil {
		return nil, nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c := &Client{
		cfg:     cfg,
		conn:    conn,
		log:     cfg.Logger,
		topic:   "hub:" + cfg.HubSID,
		joinRef: "1",
		out:     make(chan []byte, outQueue),
		done:    make(chan struct{}),
		present: map[string]bool{},
	}
	c.refSeq = 1

	info, err := c.join()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	c.session = info.SessionID
	return c, info, nil
}

func socketURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https", "":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("base url scheme %q", u.Scheme)
	}
	u.Path = socketPath
	u.RawQuery = "vsn=" + serializerVsn
	return u.String(), nil
}

type joinReply struct {
	Status   string `json:"status"`
	Response struct {
		SessionID string `json:"session_id"`
		Hubs      []struct {
			HubSID string `json:"hub_id"`
			Scene  struct {
				ModelURL string `json:"model_url"`
			} `json:"scene"`
			UserData json.RawMessage `json:"user_data"`
		} `json:"hubs"`
	} `json:"response"`
}

func (c *Client) join() (*JoinInfo, error) {
	payload := map[string]any{
		"profile": map[string]any{
			"displayName": c.cfg.DisplayName,
			"avatarId":    "",
		},
		"context": map[string]any{
			"mobile":     false,
			"embed":      false,
			"hmd":        false,
			"bot_runner": true,
		},
	}
	if c.cfg.AccessKey != "" {
		payload["bot_access_key"] = c.cfg.AccessKey
	}

	ref := c.nextRef()
	frame, err := encodeFrame(c.joinRef, ref, c.topic, "phx_join", payload)
	if err != nil {
		return nil, err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return nil, fmt.Errorf("send phx_join: %w", err)
	}

	deadline := time.Now().Add(joinTimeout)
	for {
		_ = c.conn.SetReadDeadline(deadline)
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("join reply: %w", err)
		}
		_, gotRef, topic, event, body, err := decodeFrame(raw)
		if err != nil {
			continue
		}
		if event != "phx_reply" || topic != c.topic || gotRef != ref {
			// Presence or other traffic can land before the reply.
			continue
		}
		var reply joinReply
		if err := json.Unmarshal(body, &reply); err != nil {
			return nil, fmt.Errorf("join reply: %w", err)
		}
		if reply.Status != "ok" {
			return nil, fmt.Errorf("%w: status %s", ErrJoinRejected, reply.Status)
		}
		if len(reply.Response.Hubs) == 0 || reply.Response.SessionID == "" {
			return nil, fmt.Errorf("%w: missing hub or session", ErrJoinRejected)
		}
		hub := reply.Response.Hubs[0]
		return &JoinInfo{
			SessionID: reply.Response.SessionID,
			HubSID:    hub.HubSID,
			SceneURL:  hub.Scene.ModelURL,
			UserData:  hub.UserData,
		}, nil
	}
}

// OnCommand registers the bot_command handler.
func (c *Client) OnCommand(fn func(BotCommand)) {
	c.handlerMu.Lock()
	c.onCommand = fn
	c.handlerMu.Unlock()
}

// OnHubRefresh registers the hub_refresh handler; it receives hubs[0].user_data.
func (c *Client) OnHubRefresh(fn func(userData json.RawMessage)) {
	c.handlerMu.Lock()
	c.onHubRefresh = fn
	c.handlerMu.Unlock()
}

// OnPresenceJoin fires once per session key newly present since the previous
// presence sync, own session excluded.
func (c *Client) OnPresenceJoin(fn func(sessionKey string)) {
	c.handlerMu.Lock()
	c.onPresenceJoin = fn
	c.handlerMu.Unlock()
}

// Start launches the writer, reader, and heartbeat loops.
func (c *Client) Start() {
	go c.writeLoop()
	go c.readLoop()
	go c.heartbeatLoop()
}

// SessionID is this client's own session identity from the join reply.
func (c *Client) SessionID() string { return c.session }

// PublishNAF sends the payload verbatim on the best-effort event.
func (c *Client) PublishNAF(payload any) error {
	return c.push("naf", payload)
}

// PublishNAFR wraps the payload as a JSON string so the transport relays it
// reliably.
func (c *Client) PublishNAFR(payload any) error {
	inner, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.push("nafr", map[string]string{"naf": string(inner)})
}

func (c *Client) push(event string, payload any) error {
	frame, err := encodeFrame(c.joinRef, c.nextRef(), c.topic, event, payload)
	if err != nil {
		return err
	}
	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return errors.New("socket closed")
	}
}

// Leave sends phx_leave and closes the socket without tripping the fatal
// callback. Intended for clean shutdown only.
func (c *Client) Leave() {
	frame, err := encodeFrame(c.joinRef, c.nextRef(), c.topic, "phx_leave", map[string]any{})
	if err == nil {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = c.conn.WriteMessage(websocket.TextMessage, frame)
	}
	c.Close()
}

func (c *Client) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	_ = c.conn.Close()
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.fail(fmt.Errorf("socket write: %w", err))
				return
			}
		}
	}
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			frame, err := encodeFrame("", c.nextRef(), "phoenix", "heartbeat", map[string]any{})
			if err != nil {
				continue
			}
			select {
			case c.out <- frame:
			case <-c.done:
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("socket read: %w", err))
			return
		}
		_, _, topic, event, body, err := decodeFrame(raw)
		if err != nil {
			continue
		}
		c.dispatch(topic, event, body)
	}
}

func (c *Client) dispatch(topic, event string, body json.RawMessage) {
	if topic != c.topic {
		return
	}
	switch event {
	case "message":
		c.dispatchMessage(body)
	case "hub_refresh":
		c.dispatchHubRefresh(body)
	case "presence_state":
		c.dispatchPresenceState(body)
	case "presence_diff":
		c.dispatchPresenceDiff(body)
	}
}

func (c *Client) dispatchMessage(body json.RawMessage) {
	var msg struct {
		Type string          `json:"type"`
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(body, &msg); err != nil || msg.Type != "bot_command" {
		return
	}
	var cmd BotCommand
	if err := json.Unmarshal(msg.Body, &cmd); err != nil || cmd.BotID == "" {
		return
	}
	c.handlerMu.Lock()
	fn := c.onCommand
	c.handlerMu.Unlock()
	if fn != nil {
		fn(cmd)
	}
}

func (c *Client) dispatchHubRefresh(body json.RawMessage) {
	var refresh struct {
		Hubs []struct {
			UserData json.RawMessage `json:"user_data"`
		} `json:"hubs"`
	}
	if err := json.Unmarshal(body, &refresh); err != nil || len(refresh.Hubs) == 0 {
		return
	}
	c.handlerMu.Lock()
	fn := c.onHubRefresh
	c.handlerMu.Unlock()
	if fn != nil {
		fn(refresh.Hubs[0].UserData)
	}
}

func (c *Client) dispatchPresenceState(body json.RawMessage) {
	var state map[string]json.RawMessage
	if err := json.Unmarshal(body, &state); err != nil {
		return
	}
	next := make(map[string]bool, len(state))
	for k := range state {
		if k != c.session {
			next[k] = true
		}
	}
	c.applyPresence(next)
}

func (c *Client) dispatchPresenceDiff(body json.RawMessage) {
	var diff struct {
		Joins  map[string]json.RawMessage `json:"joins"`
		Leaves map[string]json.RawMessage `json:"leaves"`
	}
	if err := json.Unmarshal(body, &diff); err != nil {
		return
	}
	next := make(map[string]bool, len(c.present)+len(diff.Joins))
	for k := range c.present {
		next[k] = true
	}
	for k := range diff.Joins {
		if k != c.session {
			next[k] = true
		}
	}
	for k := range diff.Leaves {
		delete(next, k)
	}
	c.applyPresence(next)
}

func (c *Client) applyPresence(next map[string]bool) {
	c.handlerMu.Lock()
	fn := c.onPresenceJoin
	c.handlerMu.Unlock()

	for k := range next {
		if !c.present[k] && fn != nil {
			fn(k)
		}
	}
	c.present = next
}

func (c *Client) fail(err error) {
	c.fatal.Do(func() {
		select {
		case <-c.done:
			// Clean shutdown already in progress; not fatal.
			return
		default:
		}
		if c.log != nil {
			c.log.Printf("channel fatal: %v", err)
		}
		if c.cfg.OnFatal != nil {
			c.cfg.OnFatal(err)
		}
	})
}

func (c *Client) nextRef() string {
	c.refMu.Lock()
	defer c.refMu.Unlock()
	c.refSeq++
	return strconv.FormatInt(c.refSeq, 10)
}

// encodeFrame builds a V2 serializer array. An empty joinRef encodes as null.
func encodeFrame(joinRef, ref, topic, event string, payload any) ([]byte, error) {
	var jr any
	if joinRef != "" {
		jr = joinRef
	}
	return json.Marshal([]any{jr, ref, topic, event, payload})
}

func decodeFrame(raw []byte) (joinRef, ref, topic, event string, payload json.RawMessage, err error) {
	var parts []json.RawMessage
	if err = json.Unmarshal(raw, &parts); err != nil {
		return
	}
	if len(parts) != 5 {
		err = fmt.Errorf("frame has %d elements", len(parts))
		return
	}
	joinRef = decodeNullableString(parts[0])
	ref = decodeNullableString(parts[1])
	if err = json.Unmarshal(parts[2], &topic); err != nil {
		return
	}
	if err = json.Unmarshal(parts[3], &event); err != nil {
		return
	}
	payload = parts[4]
	return
}

func decodeNullableString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
