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

// Package workspace applies code-gen revisions to a project workspace:
// it parses the provider's files block, validates and normalizes every
// path, and writes the results atomically.
package workspace

import (
	"regexp"
	"strings"
)

// File is one entry parsed from a code-gen response.
type File struct {
	// RelPath is the workspace-relative path, normalized under src/.
	RelPath string

	// Contents is the full file text.
	Contents string
}

var (
	filesBlockRe = regexp.MustCompile(`(?s)<files>(.*?)</files>`)
	fileEntryRe  = regexp.MustCompile(`(?s)<file\s+path="([^"]+)"\s*>(.*?)</file>`)
	fenceOpenRe  = regexp.MustCompile("^```[a-zA-Z0-9_-]*[ \t]*\n")
)

// ParseResponse extracts the file entries from a code-gen response
// blob. The blob is expected to contain one <files> block wrapping
// <file path="..."> children; content outside the block (provider
// prose, reasoning) is ignored. Code fences wrapping a file's contents
// are stripped.
//
// Entries with unsafe paths are dropped and reported in rejected.
// Parsing never fails; a response with no usable block simply yields
// zero files, which the caller treats as an iteration failure.
func ParseResponse(blob string) (files []File, rejected []string) {
	block := blob
	if m := filesBlockRe.FindStringSubmatch(blob); m != nil {
		block = m[1]
	} else if !strings.Contains(blob, "<file ") {
		return nil, nil
	}

	for _, m := range fileEntryRe.FindAllStringSubmatch(block, -1) {
		rawPath := strings.TrimSpace(m[1])
		normalized, ok := NormalizePath(rawPath)
		if !ok {
			rejected = append(rejected, rawPath)
			continue
		}
		files = append(files, File{
			RelPath:  normalized,
			Contents: stripFence(m[2]),
		})
	}
	return files, rejected
}

// stripFence removes a leading/trailing markdown code fence around the
// file contents, plus one leading newline left by the markup.
func stripFence(contents string) string {
	contents = strings.TrimPrefix(contents, "\n")

	if loc := fenceOpenRe.FindStringIndex(contents); loc != nil && loc[0] == 0 {
		contents = contents[loc[1]:]
		if idx := strings.LastIndex(contents, "```"); idx >= 0 {
			contents = contents[:idx]
		}
	}
	return strings.TrimSuffix(contents, "\n") + "\n"
}
