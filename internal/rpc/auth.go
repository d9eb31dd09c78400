// Copyright 2026 Tom Barlow
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

package rpc

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net"
	"sync"
	"time"
)

var (
	// ErrAuthenticationFailed is returned when token validation fails.
	ErrAuthenticationFailed = errors.New("rpc: authentication failed")

	// ErrRateLimitExceeded is returned when a client exceeds the failed
	// attempt budget.
	ErrRateLimitExceeded = errors.New("rpc: rate limit exceeded")
)

const (
	tokenBytes        = 32
	maxFailedAttempts = 5
	rateLimitWindow   = time.Minute
	rateLimitLockout  = time.Minute
)

// GenerateToken returns a 32-byte random token, base64url-encoded.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// tokenValidator checks a static token in constant time and locks out
// clients that keep failing.
type tokenValidator struct {
	token string

	mu     sync.Mutex
	failed map[string]*failRecord
}

type failRecord struct {
	count       int
	firstFail   time.Time
	lockedUntil time.Time
}

func newTokenValidator(token string) *tokenValidator {
	return &tokenValidator{
		token:  token,
		failed: make(map[string]*failRecord),
	}
}

// validate checks the presented token for the given remote address.
func (v *tokenValidator) validate(token, remoteAddr string) error {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		ip = remoteAddr
	}
	now := time.Now()

	v.mu.Lock()
	rec := v.failed[ip]
	if rec != nil && now.Before(rec.lockedUntil) {
		v.mu.Unlock()
		return ErrRateLimitExceeded
	}
	v.mu.Unlock()

	if subtle.ConstantTimeCompare([]byte(token), []byte(v.token)) != 1 {
		v.recordFailure(ip, now)
		return ErrAuthenticationFailed
	}

	v.mu.Lock()
	delete(v.failed, ip)
	v.mu.Unlock()
	return nil
}

func (v *tokenValidator) recordFailure(ip string, now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec := v.failed[ip]
	if rec == nil || now.Sub(rec.firstFail) > rateLimitWindow {
		rec = &failRecord{firstFail: now}
		v.failed[ip] = rec
	}
	rec.count++
	if rec.count >= maxFailedAttempts {
		rec.lockedUntil = now.Add(rateLimitLockout)
	}
}
