// Package scene turns a parsed glTF node tree into the navigation model the
// bot simulator consumes: named waypoints, spawn/patrol subsets, and oriented
// box colliders for line-of-sight checks.
package scene

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yengalvez/hubs-cloud/internal/gltf"
	"github.com/yengalvez/hubs-cloud/internal/mathx"
)

type Waypoint struct {
	Name             string
	Position         mathx.Vec3
	IsSpawnCandidate bool
	IsNamedSpawbot   bool
}

// BoxCollider is the unit cube [-0.5, 0.5]^3 under World. Inverse is always
// valid; non-invertible colliders are dropped during extraction.
type BoxCollider struct {
	Name    string
	World   mathx.Mat4
	Inverse mathx.Mat4
}

type Map struct {
	AllWaypoints []Waypoint
	SpawnPoints  []Waypoint
	PatrolPoints []Waypoint
	Colliders    []BoxCollider
}

// Empty is the fallback when scene extraction fails: bots wander near origin.
func Empty() *Map { return &Map{} }

// WaypointByName looks a waypoint up case-insensitively.
func (m *Map) WaypointByName(name string) (Waypoint, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	if want == "" {
		return Waypoint{}, false
	}
	for _, wp := range m.AllWaypoints {
		if strings.ToLower(wp.Name) == want {
			return wp, true
		}
	}
	return Waypoint{}, false
}

const spawbotPrefix = "spawbot-"

// Extract walks every node computing world transforms and collects the hubs
// component metadata the runner cares about.
func Extract(doc *gltf.Document) (*Map, error) {
	if doc == nil || len(doc.Nodes) == 0 {
		return nil, gltf.ErrSceneEmpty
	}

	world := make([]mathx.Mat4, len(doc.Nodes))
	visited := make([]bool, len(doc.Nodes))

	var walk func(idx int, parent mathx.Mat4)
	walk = func(idx int, parent mathx.Mat4) {
		if idx < 0 || idx >= len(doc.Nodes) || visited[idx] {
			return
		}
		visited[idx] = true
		w := parent.Mul(localMatrix(&doc.Nodes[idx]))
		world[idx] = w
		for _, child := range doc.Nodes[idx].Children {
			walk(child, w)
		}
	}

	if sc, ok := doc.DefaultScene(); ok {
		for _, root := range sc.Nodes {
			walk(root, mathx.Identity())
		}
	}
	// Nodes unreachable from the chosen scene's roots still get a world
	// matrix, rooted at identity.
	for i := range doc.Nodes {
		if !visited[i] {
			walk(i, mathx.Identity())
		}
	}

	m := &Map{}
	for i := range doc.Nodes {
		node := &doc.Nodes[i]
		comps := hubsComponents(node)
		if comps == nil {
			continue
		}

		if wp, ok := classifyWaypoint(node, i, comps, world[i]); ok {
			m.AllWaypoints = append(m.AllWaypoints, wp)
		}
		if bc, ok := extractBoxCollider(node, i, comps, world[i]); ok {
			m.Colliders = append(m.Colliders, bc)
		}
	}

	m.SpawnPoints, m.PatrolPoints = derivePools(m.AllWaypoints)
	return m, nil
}

func localMatrix(node *gltf.Node) mathx.Mat4 {
	if len(node.Matrix) == 16 {
		var m mathx.Mat4
		copy(m[:], node.Matrix)
		return m
	}
	t := mathx.Vec3{}
	if len(node.Translation) == 3 {
		t = mathx.Vec3{X: node.Translation[0], Y: node.Translation[1], Z: node.Translation[2]}
	}
	r := mathx.QuatIdentity()
	if len(node.Rotation) == 4 {
		r = mathx.Quat{X: node.Rotation[0], Y: node.Rotation[1], Z: node.Rotation[2], W: node.Rotation[3]}
	}
	s := mathx.Vec3{X: 1, Y: 1, Z: 1}
	if len(node.Scale) == 3 {
		s = mathx.Vec3{X: node.Scale[0], Y: node.Scale[1], Z: node.Scale[2]}
	}
	return mathx.Compose(t, r, s)
}

// hubsComponents returns the per-node hubs component map, preferring the MOZ
// extension key over the legacy HUBS one.
func hubsComponents(node *gltf.Node) map[string]json.RawMessage {
	for _, key := range []string{"MOZ_hubs_components", "HUBS_components"} {
		raw, ok := node.Extensions[key]
		if !ok {
			continue
		}
		var comps map[string]json.RawMessage
		if err := json.Unmarshal(raw, &comps); err != nil {
			continue
		}
		return comps
	}
	return nil
}

func classifyWaypoint(node *gltf.Node, idx int, comps map[string]json.RawMessage, world mathx.Mat4) (Waypoint, bool) {
	wpRaw, hasWaypoint := comps["waypoint"]
	_, hasSpawnPoint := comps["spawn-point"]
	if !hasSpawnPoint {
		_, hasSpawnPoint = comps["spawn_point"]
	}
	if !hasWaypoint && !hasSpawnPoint {
		return Waypoint{}, false
	}

	name := strings.TrimSpace(node.Name)
	if name == "" {
		name = fmt.Sprintf("node-%d", idx)
	}

	spawnCandidate := hasSpawnPoint
	if hasWaypoint && !spawnCandidate {
		var props struct {
			CanBeSpawnPoint bool `json:"canBeSpawnPoint"`
		}
		if err := json.Unmarshal(wpRaw, &props); err == nil {
			spawnCandidate = props.CanBeSpawnPoint
		}
	}

	return Waypoint{
		Name:             name,
		Position:         world.TransformPoint(mathx.Vec3{}),
		IsSpawnCandidate: spawnCandidate,
		IsNamedSpawbot:   strings.HasPrefix(strings.ToLower(name), spawbotPrefix),
	}, true
}

func extractBoxCollider(node *gltf.Node, idx int, comps map[string]json.RawMessage, world mathx.Mat4) (BoxCollider, bool) {
	raw, ok := comps["box-collider"]
	if !ok {
		return BoxCollider{}, false
	}
	var props struct {
		Position vec3Field `json:"position"`
		Rotation vec3Field `json:"rotation"`
		Scale    vec3Field `json:"scale"`
	}
	props.Scale = vec3Field{X: 1, Y: 1, Z: 1}
	if err := json.Unmarshal(raw, &props); err != nil {
		return BoxCollider{}, false
	}

	local := mathx.Compose(props.Position.Vec(), mathx.QuatIdentity(), mathx.Vec3{X: 1, Y: 1, Z: 1}).
		Mul(mathx.FromEulerDeg(props.Rotation.X, props.Rotation.Y, props.Rotation.Z)).
		Mul(mathx.Compose(mathx.Vec3{}, mathx.QuatIdentity(), props.Scale.Vec()))
	w := world.Mul(local)
	inv, ok := w.Invert()
	if !ok {
		return BoxCollider{}, false
	}

	name := strings.TrimSpace(node.Name)
	if name == "" {
		name = fmt.Sprintf("node-%d", idx)
	}
	return BoxCollider{Name: name, World: w, Inverse: inv}, true
}

func derivePools(all []Waypoint) (spawn, patrol []Waypoint) {
	var spawbots, candidates []Waypoint
	for _, wp := range all {
		if wp.IsNamedSpawbot {
			spawbots = append(spawbots, wp)
		}
		if wp.IsSpawnCandidate {
			candidates = append(candidates, wp)
		}
	}

	switch {
	case len(spawbots) > 0:
		spawn = spawbots
	case len(candidates) > 0:
		spawn = candidates
	default:
		spawn = all
	}

	switch {
	case len(spawbots) >= 2:
		patrol = spawbots
	case len(all) >= 2:
		patrol = all
	case len(candidates) >= 2:
		patrol = candidates
	default:
		patrol = nil
	}
	return spawn, patrol
}

// vec3Field decodes either {x,y,z} objects or [x,y,z] arrays; scene authoring
// tools emit both.
type vec3Field struct {
	X, Y, Z float64
}

func (v *vec3Field) UnmarshalJSON(b []byte) error {
	var obj struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		Z float64 `json:"z"`
	}
	if err := json.Unmarshal(b, &obj); err == nil {
		v.X, v.Y, v.Z = obj.X, obj.Y, obj.Z
		return nil
	}
	var arr []float64
	if err := json.Unmarshal(b, &arr); err != nil {
		return err
	}
	if len(arr) >= 3 {
		v.X, v.Y, v.Z = arr[0], arr[1], arr[2]
	}
	return nil
}

func (v vec3Field) Vec() mathx.Vec3 { return mathx.Vec3{X: v.X, Y: v.Y, Z: v.Z} }
