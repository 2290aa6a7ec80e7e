// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// identityFileName is the sidecar file, alongside the COSS stripe
// files, that pins a cache directory's identity across restarts.
const identityFileName = "UUID"

// LoadOrCreateLocalID reads the canonical UUID string from dir's UUID
// sidecar file, creating one with a freshly generated UUID if the file
// is missing. A proxy process calls this once per configured cache
// directory so its local_size cache keeps the same identity across
// restarts, letting a peer's HELLO handshake recognize a reconnecting
// proxy's dictionary instead of treating it as new every time.
func LoadOrCreateLocalID(dir string) (uuid.UUID, error) {
	path := filepath.Join(dir, identityFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		id, err := uuid.Parse(strings.TrimSpace(string(data)))
		if err != nil {
			return uuid.Nil, fmt.Errorf("cache: parsing %s: %w", path, err)
		}
		return id, nil
	}
	if !os.IsNotExist(err) {
		return uuid.Nil, fmt.Errorf("cache: reading %s: %w", path, err)
	}

	id := uuid.New()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return uuid.Nil, fmt.Errorf("cache: creating cache directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o644); err != nil {
		return uuid.Nil, fmt.Errorf("cache: writing %s: %w", path, err)
	}
	return id, nil
}
