package unity

import (
	"fmt"
	"sort"
	"sync"
)

// Host is the surface the built-in command handlers call into. The real
// implementation lives on the editor side of the transport; the bridge only
// requires that every method is safe to call from the drain goroutine, which
// is the single context mutating operations are serialized onto.
type Host interface {
	// EditorState reports coarse host status (play mode, compiling, ...).
	EditorState() (map[string]interface{}, error)
	// SceneHierarchy lists the open scene's root object names in order.
	SceneHierarchy() ([]string, error)
	// ExecuteMenu runs an editor menu item by its full path.
	ExecuteMenu(path string) error
	// RefreshAssets triggers an asset database refresh.
	RefreshAssets() error
	// SetProperty sets a named property on a scene object.
	SetProperty(object, property string, value interface{}) error
}

// FakeHost is an in-memory Host used by tests and standalone runs of the
// bridge. Mutations are recorded so tests can assert on them.
type FakeHost struct {
	mu         sync.Mutex
	playing    bool
	objects    map[string]map[string]interface{}
	menuCalls  []string
	refreshes  int
	failMenu   map[string]error
	sceneOrder []string
}

// NewFakeHost returns a FakeHost with a small default scene.
func NewFakeHost() *FakeHost {
	return &FakeHost{
		objects: map[string]map[string]interface{}{
			"Main Camera":       {"position": Vector3{0, 1, -10}},
			"Directional Light": {"color": Color{1, 0.96, 0.84, 1}},
		},
		sceneOrder: []string{"Main Camera", "Directional Light"},
		failMenu:   make(map[string]error),
	}
}

func (h *FakeHost) EditorState() (map[string]interface{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return map[string]interface{}{
		"playing":   h.playing,
		"compiling": false,
		"objects":   len(h.objects),
	}, nil
}

func (h *FakeHost) SceneHierarchy() ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.sceneOrder))
	copy(out, h.sceneOrder)
	return out, nil
}

func (h *FakeHost) ExecuteMenu(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err, ok := h.failMenu[path]; ok {
		return err
	}
	h.menuCalls = append(h.menuCalls, path)
	return nil
}

func (h *FakeHost) RefreshAssets() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refreshes++
	return nil
}

func (h *FakeHost) SetProperty(object, property string, value interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	props, ok := h.objects[object]
	if !ok {
		return fmt.Errorf("object not found: %s", object)
	}
	props[property] = value
	return nil
}

// FailMenu makes a subsequent ExecuteMenu call for path return err.
func (h *FakeHost) FailMenu(path string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failMenu[path] = err
}

// MenuCalls returns the menu paths executed so far, in order.
func (h *FakeHost) MenuCalls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.menuCalls))
	copy(out, h.menuCalls)
	return out
}

// RefreshCount returns how many asset refreshes have been requested.
func (h *FakeHost) RefreshCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refreshes
}

// Property reads back a property set earlier, for test assertions.
func (h *FakeHost) Property(object, property string) (interface{}, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	props, ok := h.objects[object]
	if !ok {
		return nil, false
	}
	v, ok := props[property]
	return v, ok
}

// Objects lists known object names, sorted.
func (h *FakeHost) Objects() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.objects))
	for name := range h.objects {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
