// Copyright 2025 Poiesic Systems
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

package scan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Subdirectories returns the immediate subdirectories of root, sorted.
func Subdirectories(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRootNotFound, root)
		}
		return nil, err
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	return dirs, nil
}

// Files returns the files under dir, recursively, whose extension matches
// one of exts ignoring case. Extensions may be given with or without the
// leading dot. Entries that disappear during the walk are skipped, so a
// directory removed mid-scan yields an empty result rather than an error.
func Files(dir string, exts []string) ([]string, error) {
	accept := extensionSet(exts)
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if accept[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// LooseFiles returns the files directly under root whose extension matches
// one of exts. They belong to no ruleset and are never scanned.
func LooseFiles(root string, exts []string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	accept := extensionSet(exts)
	var files []string
	for _, e := range entries {
		if !e.IsDir() && accept[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(root, e.Name()))
		}
	}
	return files, nil
}

func extensionSet(exts []string) map[string]bool {
	accept := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		accept[ext] = true
	}
	return accept
}
