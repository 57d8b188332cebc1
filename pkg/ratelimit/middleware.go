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

package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
)

// ClientIDHeader lets a trusted caller name the client it acts for.
const ClientIDHeader = "X-Client-ID"

// IdentifierFunc extracts the client identity from a request.
type IdentifierFunc func(r *http.Request) string

// DefaultIdentifier uses X-Client-ID when present, else the remote host.
func DefaultIdentifier(r *http.Request) string {
	if id := r.Header.Get(ClientIDHeader); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware admits a request only if its client has room in every window.
// Store errors let the request through.
func Middleware(l *Limiter, identify IdentifierFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if l == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if identify == nil {
		identify = DefaultIdentifier
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := identify(r)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := l.Allow(r.Context(), id)
			if err != nil {
				logger.Error("Rate limit check failed", "error", err, "client", id)
				next.ServeHTTP(w, r)
				return
			}

			setHeaders(w, result)
			if !result.Allowed {
				logger.Warn("Rate limited", "client", id, "reason", result.Reason)
				writeLimited(w, result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setHeaders(w http.ResponseWriter, result *CheckResult) {
	u := result.Tightest()
	if u == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(u.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(u.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(u.WindowEnd.Unix(), 10))
}

func writeLimited(w http.ResponseWriter, result *CheckResult) {
	seconds := int64(math.Ceil(result.RetryAfter.Seconds()))
	if seconds > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":               result.Reason,
		"retry_after_seconds": seconds,
		"usage":               result.Usages,
	})
}
