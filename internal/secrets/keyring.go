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

package secrets

import (
	"context"
	"errors"
	"sync"

	"github.com/zalando/go-keyring"
)

// keyringService namespaces our entries in the OS keyring.
const keyringService = "atelier"

// KeyringBackend stores secrets in the OS keyring (Secret Service on
// Linux, Keychain on macOS). Headless hosts typically have no keyring;
// availability is probed once and cached.
type KeyringBackend struct {
	probeOnce sync.Once
	usable    bool
}

// NewKeyringBackend creates the keyring backend.
func NewKeyringBackend() *KeyringBackend { return &KeyringBackend{} }

func (k *KeyringBackend) Name() string  { return "keyring" }
func (k *KeyringBackend) Priority() int { return 50 }

// Available probes the keyring with a throwaway lookup. A missing
// entry proves the keyring answers; a transport error proves it does
// not exist on this host.
func (k *KeyringBackend) Available() bool {
	k.probeOnce.Do(func() {
		_, err := keyring.Get(keyringService, "availability-probe")
		k.usable = err == nil || errors.Is(err, keyring.ErrNotFound)
	})
	return k.usable
}

func (k *KeyringBackend) Get(_ context.Context, key string) (string, error) {
	value, err := keyring.Get(keyringService, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", ErrUnavailable
	}
	return value, nil
}

func (k *KeyringBackend) Set(_ context.Context, key, value string) error {
	if err := keyring.Set(keyringService, key, value); err != nil {
		return ErrUnavailable
	}
	return nil
}
