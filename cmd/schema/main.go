package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	server "holdfast/server"
)

// Generates the JSON schema that client authors validate their protocol
// handling against.
func main() {
	var outPath string
	flag.StringVar(&outPath, "out", "", "path to write the JSON schema")
	flag.Parse()

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	schema := buildSchema()

	if err := writeSchema(outPath, schema); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write schema: %v\n", err)
		os.Exit(1)
	}
}

// protocol is the top-level envelope the reflector walks; each field pulls
// one wire message into the schema definitions.
type protocol struct {
	Join           server.JoinResponse          `json:"join"`
	Sync           server.SyncMessage           `json:"sync"`
	State          server.StateMessage          `json:"state"`
	Event          server.EventMessage          `json:"event"`
	InteractResult server.InteractResultMessage `json:"interactResult"`
	Heartbeat      server.HeartbeatMessage      `json:"heartbeat"`
	Client         server.ClientMessage         `json:"client"`
}

func buildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(new(protocol))
	schema.Title = "Holdfast Wire Protocol"
	schema.Description = "Validates every message exchanged over the session socket"
	return schema
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}

	return nil
}
