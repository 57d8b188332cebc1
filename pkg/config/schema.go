// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"github.com/invopop/jsonschema"
)

// Schema returns the JSON Schema of the configuration file, keyed by the
// same yaml names the loader decodes.
func Schema() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		FieldNameTag:               "yaml",
		DoNotReference:             true,
		AllowAdditionalProperties:  false,
		RequiredFromJSONSchemaTags: true,
	}

	schema := reflector.Reflect(&Config{})
	schema.Version = "http://json-schema.org/draft-07/schema#"
	schema.Title = "Conductor Configuration Schema"
	schema.Description = "Agents, selector and limits of a conductor orchestrator"
	schema.Examples = []any{
		map[string]any{
			"orchestrator": map[string]any{
				"max_steps": 8,
				"selector": map[string]any{
					"type":  "sequence",
					"route": []string{"coder", "computerterminal"},
				},
			},
			"agents": map[string]any{
				"coder":            map[string]any{"url": "http://coder:8000"},
				"computerterminal": map[string]any{"url": "http://computerterminal:8000"},
			},
		},
	}
	return schema
}
