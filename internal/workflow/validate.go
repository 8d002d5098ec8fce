package workflow

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sessionkernel/robotd/internal/mcpclient"
)

var schemaCache sync.Map

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	key := name + "\x00" + string(raw)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	schema, err := jsonschema.CompileString(name, string(raw))
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, schema)
	return schema, nil
}

// validateArgs checks resolved tool call arguments against the tool's own
// JSON schema. It never blocks the call: a mismatch is surfaced to the
// caller as an error so it can be recorded against the step's history entry,
// but the call still goes out, since the MCP server's own response is the
// final authority. A tool with no schema, or a schema that fails to
// compile, is treated as passing validation.
func validateArgs(tool mcpclient.MCPTool, client MCPClient, args map[string]any) error {
	raw := client.ToolSchema(tool)
	if len(raw) == 0 {
		return nil
	}

	schema, err := compileSchema(tool.Name, raw)
	if err != nil {
		return nil
	}

	// Round-trip through JSON so numbers land as float64, matching what the
	// schema compiler expects from a decoded JSON document.
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil
	}
	var instance any
	if err := json.Unmarshal(encoded, &instance); err != nil {
		return nil
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("arguments for %s do not satisfy its schema: %w", tool.Name, err)
	}
	return nil
}
