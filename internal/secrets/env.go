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
	"os"
	"strings"
)

// EnvBackend reads secrets from ATELIER_* environment variables.
// "codegen_api_key" maps to ATELIER_CODEGEN_API_KEY.
type EnvBackend struct{}

// NewEnvBackend creates the environment backend.
func NewEnvBackend() *EnvBackend { return &EnvBackend{} }

func (e *EnvBackend) Name() string   { return "env" }
func (e *EnvBackend) Priority() int  { return 100 }
func (e *EnvBackend) Available() bool { return true }

// EnvVar returns the environment variable name for a secret key.
func EnvVar(key string) string {
	return "ATELIER_" + strings.ToUpper(key)
}

func (e *EnvBackend) Get(_ context.Context, key string) (string, error) {
	if value, ok := os.LookupEnv(EnvVar(key)); ok && value != "" {
		return value, nil
	}
	return "", ErrNotFound
}

func (e *EnvBackend) Set(_ context.Context, _, _ string) error {
	return ErrReadOnly
}
