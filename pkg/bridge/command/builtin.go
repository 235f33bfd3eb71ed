package command

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/unity"
)

// RegisterBuiltins wires the stock editor operations against a host.
func RegisterBuiltins(r *Registry, host unity.Host) error {
	builtins := []*Definition{
		{
			Name:        "editor.state",
			Description: "Report coarse editor status",
			Kind:        KindRead,
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return host.EditorState()
			},
		},
		{
			Name:        "scene.hierarchy",
			Description: "List root objects of the open scene",
			Kind:        KindRead,
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return host.SceneHierarchy()
			},
		},
		{
			Name:        "menu.execute",
			Description: "Run an editor menu item by path",
			Kind:        KindWrite,
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "minLength": 1}
				},
				"required": ["path"]
			}`),
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				path, _ := params["path"].(string)
				if err := host.ExecuteMenu(path); err != nil {
					return nil, err
				}
				return map[string]interface{}{"executed": path}, nil
			},
		},
		{
			Name:        "assets.refresh",
			Description: "Trigger an asset database refresh",
			Kind:        KindWrite,
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				if err := host.RefreshAssets(); err != nil {
					return nil, err
				}
				return map[string]interface{}{"refreshed": true}, nil
			},
		},
		{
			Name:        "object.set_property",
			Description: "Set a property on a scene object",
			Kind:        KindWrite,
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"object": {"type": "string", "minLength": 1},
					"property": {"type": "string", "minLength": 1},
					"value": {}
				},
				"required": ["object", "property", "value"]
			}`),
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				object, _ := params["object"].(string)
				property, _ := params["property"].(string)
				if err := host.SetProperty(object, property, params["value"]); err != nil {
					return nil, err
				}
				return map[string]interface{}{"object": object, "property": property}, nil
			},
		},
	}

	for _, def := range builtins {
		if err := r.Register(def); err != nil {
			return fmt.Errorf("registering %s: %w", def.Name, err)
		}
	}
	return nil
}
