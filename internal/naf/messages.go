// Package naf defines the networked-entity payloads the runner broadcasts:
// create and remove over the best-effort event, incremental path updates over
// the reliable one.
package naf

import "fmt"

const (
	dataTypeUpdate = "u"
	dataTypeRemove = "r"

	// Template instantiated by viewing clients for every runner bot.
	botTemplate = "#remote-bot-avatar"

	// Component slots in the entity schema.
	slotPath = "0"
	slotInfo = "1"
)

// PathComponent is one straight-line move: start, end, server-clock start
// time, duration, and the yaw sweep. A freeze has start==end and dur==0.
type PathComponent struct {
	SX float64 `json:"sx"`
	SY float64 `json:"sy"`
	SZ float64 `json:"sz"`
	EX float64 `json:"ex"`
	EY float64 `json:"ey"`
	EZ float64 `json:"ez"`

	T0  int64 `json:"t0"`
	Dur int64 `json:"dur"`

	Yaw0 float64 `json:"yaw0"`
	Yaw1 float64 `json:"yaw1"`
}

type InfoComponent struct {
	BotID       string `json:"botId"`
	AvatarID    string `json:"avatarId"`
	DisplayName string `json:"displayName"`
	IsBot       bool   `json:"isBot"`
}

// Message is the wire envelope for both the naf and nafr events.
type Message struct {
	DataType string `json:"dataType"`
	Data     any    `json:"data"`
}

type entityData struct {
	NetworkID     string         `json:"networkId"`
	Owner         string         `json:"owner"`
	Creator       string         `json:"creator"`
	LastOwnerTime int64          `json:"lastOwnerTime"`
	Template      string         `json:"template"`
	Persistent    bool           `json:"persistent"`
	Parent        any            `json:"parent"`
	Components    map[string]any `json:"components"`
	IsFirstSync   bool           `json:"isFirstSync,omitempty"`
}

type removeData struct {
	NetworkID string `json:"networkId"`
}

// NetworkID is stable across restarts so replays replace rather than
// duplicate entities on peers.
func NetworkID(hubSID, botID string) string {
	return fmt.Sprintf("room-bot-%s-%s", hubSID, botID)
}

// CreateEntity is the full first-sync payload carrying both component slots.
func CreateEntity(networkID, sessionID string, lastOwnerTime int64, path PathComponent, info InfoComponent) Message {
	return Message{
		DataType: dataTypeUpdate,
		Data: entityData{
			NetworkID:     networkID,
			Owner:         sessionID,
			Creator:       sessionID,
			LastOwnerTime: lastOwnerTime,
			Template:      botTemplate,
			Parent:        nil,
			Components: map[string]any{
				slotPath: path,
				slotInfo: info,
			},
			IsFirstSync: true,
		},
	}
}

// UpdateEntity carries only the fresh path component.
func UpdateEntity(networkID, sessionID string, lastOwnerTime int64, path PathComponent) Message {
	return Message{
		DataType: dataTypeUpdate,
		Data: entityData{
			NetworkID:     networkID,
			Owner:         sessionID,
			Creator:       sessionID,
			LastOwnerTime: lastOwnerTime,
			Template:      botTemplate,
			Parent:        nil,
			Components: map[string]any{
				slotPath: path,
			},
		},
	}
}

func RemoveEntity(networkID string) Message {
	return Message{
		DataType: dataTypeRemove,
		Data:     removeData{NetworkID: networkID},
	}
}

// Freeze pins the entity at pos with the given yaw.
func Freeze(x, y, z float64, yawDeg float64, t0 int64) PathComponent {
	return PathComponent{
		SX: x, SY: y, SZ: z,
		EX: x, EY: y, EZ: z,
		T0: t0, Dur: 0,
		Yaw0: yawDeg, Yaw1: yawDeg,
	}
}
