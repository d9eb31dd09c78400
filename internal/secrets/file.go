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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio"
	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for master-key derivation.
const (
	argon2Time        = 3
	argon2MemoryKiB   = 64 * 1024
	argon2Parallelism = 4
	argon2KeyLen      = 32

	saltLen = 16
)

// masterKeyEnv supplies the passphrase on headless hosts.
const masterKeyEnv = "ATELIER_MASTER_KEY"

// FileBackend stores secrets in an AES-256-GCM encrypted JSON file.
// The cipher key is derived with Argon2id from a passphrase taken from
// ATELIER_MASTER_KEY or the master.key file next to the store.
type FileBackend struct {
	mu         sync.Mutex
	path       string
	passphrase []byte
}

// envelope is the on-disk layout.
type envelope struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	Data  []byte `json:"data"`
}

// NewFileBackend creates the encrypted file backend under configDir.
func NewFileBackend(configDir string) *FileBackend {
	f := &FileBackend{path: filepath.Join(configDir, "secrets.enc")}
	if pass := os.Getenv(masterKeyEnv); pass != "" {
		f.passphrase = []byte(pass)
		return f
	}
	if data, err := os.ReadFile(filepath.Join(configDir, "master.key")); err == nil {
		f.passphrase = []byte(strings.TrimSpace(string(data)))
	}
	return f
}

func (f *FileBackend) Name() string    { return "file" }
func (f *FileBackend) Priority() int   { return 25 }
func (f *FileBackend) Available() bool { return len(f.passphrase) > 0 }

func (f *FileBackend) Get(_ context.Context, key string) (string, error) {
	if !f.Available() {
		return "", ErrUnavailable
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	store, err := f.load()
	if err != nil {
		return "", err
	}
	value, ok := store[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (f *FileBackend) Set(_ context.Context, key, value string) error {
	if !f.Available() {
		return ErrUnavailable
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	store, err := f.load()
	if err != nil {
		return err
	}
	store[key] = value
	return f.save(store)
}

// load decrypts the store; a missing file is an empty store.
func (f *FileBackend) load() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	gcm, err := f.cipherFor(env.Salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, env.Nonce, env.Data, nil)
	if err != nil {
		return nil, err
	}

	store := map[string]string{}
	if err := json.Unmarshal(plain, &store); err != nil {
		return nil, err
	}
	return store, nil
}

// save encrypts and atomically replaces the store with a fresh salt and
// nonce.
func (f *FileBackend) save(store map[string]string) error {
	plain, err := json.Marshal(store)
	if err != nil {
		return err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	gcm, err := f.cipherFor(salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	env := envelope{
		Salt:  salt,
		Nonce: nonce,
		Data:  gcm.Seal(nil, nonce, plain, nil),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	return renameio.WriteFile(f.path, raw, 0o600)
}

func (f *FileBackend) cipherFor(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(f.passphrase, salt, argon2Time, argon2MemoryKiB, argon2Parallelism, argon2KeyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
