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

// Package auth checks the opaque bearer credential shared between the
// orchestrator and its agents. Tokens are compared, never decoded.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// ValidateHeader checks an Authorization header value against token. A
// header whose scheme is not Bearer is compared verbatim.
func ValidateHeader(header, token string) error {
	if header == "" {
		return ErrUnauthorized
	}
	presented := header
	if scheme, rest, ok := strings.Cut(header, " "); ok {
		if strings.EqualFold(scheme, "Bearer") {
			presented = strings.TrimSpace(rest)
		}
	} else if header != token {
		return ErrInvalidFormat
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// Middleware rejects requests without the expected credential. An empty
// token disables the check. Paths in excluded bypass it.
func Middleware(token string, excluded ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(excluded))
	for _, p := range excluded {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if err := ValidateHeader(r.Header.Get("Authorization"), token); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", "Bearer")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
