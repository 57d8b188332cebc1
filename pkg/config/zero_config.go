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
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kadirpekel/conductor/pkg/protocol"
)

// Environment variables read by FromEnv.
const (
	EnvAgents         = "AGENTS"
	EnvMaxSteps       = "MAX_STEPS"
	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvRetries        = "RETRIES"
	EnvAuthToken      = "AUTH_TOKEN"
	EnvPort           = "PORT"
	EnvSelector       = "SELECTOR"
	EnvOllamaHost     = "OLLAMA_HOST"
	EnvOllamaModel    = "OLLAMA_MODEL"
)

var defaultAgents = []protocol.Source{
	protocol.SourceCoder,
	protocol.SourceWebSurfer,
	protocol.SourceFileSurfer,
	protocol.SourceComputerTerminal,
}

// FromEnv builds a config without a file.
//
// Agents default to coder, websurfer, filesurfer and computerterminal, or the
// comma-separated AGENTS list. Each agent's URL comes from URL_<NAME>,
// defaulting to http://<name>:8000. REQUEST_TIMEOUT is in seconds. RETRIES
// counts extra attempts after the first. The model selector is used when
// SELECTOR=model or either OLLAMA_ variable is set.
func FromEnv() (*Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := &Config{Agents: make(map[string]*AgentConfig)}

	names := make([]string, 0, len(defaultAgents))
	if list := get(EnvAgents); list != "" {
		for _, n := range strings.Split(list, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	} else {
		for _, s := range defaultAgents {
			names = append(names, string(s))
		}
	}

	var timeout time.Duration
	if v := get(EnvRequestTimeout); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("%s must be a positive number of seconds, got %q", EnvRequestTimeout, v)
		}
		timeout = time.Duration(secs * float64(time.Second))
	}

	attempts := 0
	if v := get(EnvRetries); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%s must be a non-negative integer, got %q", EnvRetries, v)
		}
		attempts = n + 1
	}

	for _, name := range names {
		url := get("URL_" + strings.ToUpper(name))
		if url == "" {
			url = fmt.Sprintf("http://%s:8000", name)
		}
		cfg.Agents[name] = &AgentConfig{
			URL:         url,
			Timeout:     timeout,
			MaxAttempts: attempts,
		}
	}

	if v := get(EnvMaxSteps); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%s must be a positive integer, got %q", EnvMaxSteps, v)
		}
		cfg.Orchestrator.MaxSteps = n
	}

	if v := get(EnvPort); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer, got %q", EnvPort, v)
		}
		cfg.Server.Port = n
	}

	cfg.Auth.Token = get(EnvAuthToken)

	host, model := get(EnvOllamaHost), get(EnvOllamaModel)
	selector := get(EnvSelector)
	if selector == "" && (host != "" || model != "") {
		selector = SelectorModel
	}
	cfg.Orchestrator.Selector.Type = selector
	if selector == SelectorModel {
		cfg.Orchestrator.Selector.Model.Host = host
		cfg.Orchestrator.Selector.Model.Model = model
	}

	return ProcessConfigPipeline(cfg)
}
