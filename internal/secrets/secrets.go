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

// Package secrets resolves provider API keys. Backends are consulted in
// priority order: environment variables, the OS keyring, then an
// encrypted file. The environment backend is read-only; writes go to
// the highest-priority writable backend.
package secrets

import (
	"context"
	"errors"
	"sort"
)

var (
	// ErrNotFound is returned when no backend holds the key.
	ErrNotFound = errors.New("secret not found")

	// ErrUnavailable is returned by a backend that cannot operate in
	// the current environment.
	ErrUnavailable = errors.New("secret backend unavailable")

	// ErrReadOnly is returned by backends that do not support writes.
	ErrReadOnly = errors.New("secret backend is read-only")
)

// Well-known secret keys.
const (
	KeyCodegenAPIKey = "codegen_api_key"
	KeyScorerAPIKey  = "scorer_api_key"
)

// Backend is one secret store.
type Backend interface {
	// Name identifies the backend ("env", "keyring", "file").
	Name() string

	// Get retrieves a secret, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a secret, or ErrReadOnly.
	Set(ctx context.Context, key, value string) error

	// Available reports whether the backend works here at all.
	Available() bool

	// Priority orders resolution; higher is consulted first.
	Priority() int
}

// Resolver queries backends in priority order.
type Resolver struct {
	backends []Backend
}

// NewResolver creates a resolver over the given backends, sorted by
// descending priority. Unavailable backends are kept and skipped at
// lookup time, so availability can recover without a restart.
func NewResolver(backends ...Backend) *Resolver {
	sorted := make([]Backend, len(backends))
	copy(sorted, backends)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})
	return &Resolver{backends: sorted}
}

// DefaultResolver builds the standard chain: env, keyring, encrypted
// file under the config directory.
func DefaultResolver(configDir string) *Resolver {
	return NewResolver(
		NewEnvBackend(),
		NewKeyringBackend(),
		NewFileBackend(configDir),
	)
}

// Get returns the first backend's value for the key. ErrNotFound means
// no available backend holds it.
func (r *Resolver) Get(ctx context.Context, key string) (string, error) {
	for _, b := range r.backends {
		if !b.Available() {
			continue
		}
		value, err := b.Get(ctx, key)
		switch {
		case err == nil:
			return value, nil
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnavailable):
			continue
		default:
			return "", err
		}
	}
	return "", ErrNotFound
}

// Set writes the key to the highest-priority writable backend.
func (r *Resolver) Set(ctx context.Context, key, value string) error {
	for _, b := range r.backends {
		if !b.Available() {
			continue
		}
		err := b.Set(ctx, key, value)
		if errors.Is(err, ErrReadOnly) || errors.Is(err, ErrUnavailable) {
			continue
		}
		return err
	}
	return ErrUnavailable
}
