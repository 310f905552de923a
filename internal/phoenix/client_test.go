package phoenix

import (
	"encoding/json"
	"sort"
	"testing"
)

func newBareClient() *Client {
	return &Client{
		topic:   "hub:abc123",
		session: "me",
		present: map[string]bool{},
	}
}

func TestSocketURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"https://meta-hubs.org", "wss://meta-hubs.org/socket/websocket?vsn=2.0.0"},
		{"http://localhost:4000/", "ws://localhost:4000/socket/websocket?vsn=2.0.0"},
		{"wss://host", "wss://host/socket/websocket?vsn=2.0.0"},
	}
	for _, c := range cases {
		got, err := socketURL(c.in)
		if err != nil || got != c.want {
			t.Fatalf("socketURL(%q) = %q, %v; want %q", c.in, got, err, c.want)
		}
	}
}

func TestFrameCodec_RoundTrip(t *testing.T) {
	frame, err := encodeFrame("1", "7", "hub:abc123", "naf", map[string]any{"dataType": "r"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	jr, ref, topic, event, payload, err := decodeFrame(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if jr != "1" || ref != "7" || topic != "hub:abc123" || event != "naf" {
		t.Fatalf("fields: %q %q %q %q", jr, ref, topic, event)
	}
	var p map[string]string
	if err := json.Unmarshal(payload, &p); err != nil || p["dataType"] != "r" {
		t.Fatalf("payload: %s err=%v", payload, err)
	}
}

func TestFrameCodec_NullJoinRef(t *testing.T) {
	frame, _ := encodeFrame("", "2", "phoenix", "heartbeat", map[string]any{})
	jr, _, _, _, _, err := decodeFrame(frame)
	if err != nil || jr != "" {
		t.Fatalf("null join_ref: %q err=%v", jr, err)
	}
}

func TestDispatchMessage_FiltersNonCommands(t *testing.T) {
	c := newBareClient()
	var got []BotCommand
	c.OnCommand(func(cmd BotCommand) { got = append(got, cmd) })

	c.dispatch("hub:abc123", "message", json.RawMessage(`{"type":"chat","body":{"text":"hi"}}`))
	c.dispatch("hub:abc123", "message", json.RawMessage(`{"type":"bot_command","body":{"type":"go_to_waypoint","waypoint":"spawbot-a"}}`))
	c.dispatch("hub:other", "message", json.RawMessage(`{"type":"bot_command","body":{"bot_id":"bot-1","type":"go_to_waypoint"}}`))
	c.dispatch("hub:abc123", "message", json.RawMessage(`{"type":"bot_command","body":{"bot_id":"bot-2","type":"go_to_waypoint","waypoint":"spawbot-b"}}`))

	if len(got) != 1 || got[0].BotID != "bot-2" || got[0].Waypoint != "spawbot-b" {
		t.Fatalf("commands: %+v", got)
	}
}

func TestDispatchHubRefresh_PassesUserData(t *testing.T) {
	c := newBareClient()
	var got json.RawMessage
	c.OnHubRefresh(func(ud json.RawMessage) { got = ud })

	c.dispatch("hub:abc123", "hub_refresh",
		json.RawMessage(`{"hubs":[{"user_data":{"bots":{"enabled":true,"count":2}}}]}`))
	var ud map[string]any
	if err := json.Unmarshal(got, &ud); err != nil {
		t.Fatalf("user_data: %v", err)
	}
	if _, ok := ud["bots"]; !ok {
		t.Fatalf("user_data missing bots: %s", got)
	}
}

func TestPresence_NewKeysFireOnce_OwnExcluded(t *testing.T) {
	c := newBareClient()
	var joins []string
	c.OnPresenceJoin(func(k string) { joins = append(joins, k) })

	c.dispatch("hub:abc123", "presence_state",
		json.RawMessage(`{"me":{"metas":[]},"peer-1":{"metas":[]}}`))
	sort.Strings(joins)
	if len(joins) != 1 || joins[0] != "peer-1" {
		t.Fatalf("initial joins: %v", joins)
	}

	// Same state again: no new keys.
	joins = nil
	c.dispatch("hub:abc123", "presence_state",
		json.RawMessage(`{"me":{"metas":[]},"peer-1":{"metas":[]}}`))
	if len(joins) != 0 {
		t.Fatalf("repeat state fired: %v", joins)
	}

	c.dispatch("hub:abc123", "presence_diff",
		json.RawMessage(`{"joins":{"peer-2":{"metas":[]}},"leaves":{}}`))
	if len(joins) != 1 || joins[0] != "peer-2" {
		t.Fatalf("diff joins: %v", joins)
	}

	// Leave then rejoin fires again.
	joins = nil
	c.dispatch("hub:abc123", "presence_diff",
		json.RawMessage(`{"joins":{},"leaves":{"peer-2":{"metas":[]}}}`))
	c.dispatch("hub:abc123", "presence_diff",
		json.RawMessage(`{"joins":{"peer-2":{"metas":[]}},"leaves":{}}`))
	if len(joins) != 1 || joins[0] != "peer-2" {
		t.Fatalf("rejoin: %v", joins)
	}
}
