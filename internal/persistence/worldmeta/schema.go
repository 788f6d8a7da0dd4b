package worldmeta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "world_info.schema.json"

const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "seed", "created_time", "last_played", "game_mode", "world_type"],
  "properties": {
    "format_version": {"type": "integer", "minimum": 1},
    "name": {"type": "string", "minLength": 1, "maxLength": 64},
    "seed": {"type": "integer", "minimum": 0, "maximum": 4294967295},
    "created_time": {"type": "string", "format": "date-time"},
    "last_played": {"type": "string", "format": "date-time"},
    "game_mode": {"enum": ["survival", "creative", "adventure", "spectator"]},
    "world_type": {"enum": ["default", "flat", "large_biomes", "amplified"]}
  }
}`

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat = true
	if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add world_info schema: %w", err)
	}
	return c.Compile(schemaURL)
}

// decode validates data against the world_info schema and decodes it.
func decode(schema *jsonschema.Schema, data []byte) (Info, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return Info{}, fmt.Errorf("parse world_info: %w", err)
	}
	if schema != nil {
		if err := schema.Validate(doc); err != nil {
			return Info{}, fmt.Errorf("validate world_info: %w", err)
		}
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("decode world_info: %w", err)
	}
	if info.FormatVersion == 0 {
		info.FormatVersion = FormatVersion
	}
	return info, nil
}
