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
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads .env files without overwriting variables already set.
// Explicit paths are tried first, then ./.env, then ~/.env. Missing files
// are skipped.
func LoadDotEnv(paths ...string) error {
	candidates := append([]string(nil), paths...)
	candidates = append(candidates, ".env")
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".env"))
	}

	for _, path := range candidates {
		if path == "" {
			continue
		}
		loadIfExists(path)
	}
	return nil
}

// LoadDotEnvForConfig also tries the .env next to the config file.
func LoadDotEnvForConfig(configPath string) error {
	if configPath == "" {
		return LoadDotEnv()
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return LoadDotEnv()
	}
	return LoadDotEnv(filepath.Join(filepath.Dir(abs), ".env"))
}

func loadIfExists(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		slog.Debug("Failed to load .env file", "path", path, "error", err)
		return
	}
	slog.Debug("Loaded environment from .env", "path", path)
}
