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

package httpclient

import (
	"errors"
	"fmt"
)

// RetryableError is a transport-level failure: the request could not be
// delivered, timed out, or the agent answered with a non-2xx status.
type RetryableError struct {
	StatusCode int
	Message    string
	Attempts   int
	Err        error
}

func (e *RetryableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	if e.Err != nil && e.Err.Error() != e.Message {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable is true for every transport failure, non-2xx replies included.
func (e *RetryableError) IsRetryable() bool {
	return true
}

// AttemptsOf returns the attempt count recorded on a RetryableError in err's chain.
func AttemptsOf(err error) int {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.Attempts
	}
	return 0
}

// StatusCodeOf returns the HTTP status recorded on a RetryableError in err's chain.
func StatusCodeOf(err error) int {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}
