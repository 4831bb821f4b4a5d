// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package statecache persists a Connection's resumable state to disk
// so a restarting client can pick up incremental sync where it left
// off instead of paying for an initial full sync.
//
// The file format is a fixed header (magic, format version, one-byte
// compression tag, uncompressed payload size) followed by the
// deterministically CBOR-encoded client.Snapshot, compressed with the
// tagged algorithm. Deterministic encoding means saving unchanged
// state rewrites identical bytes.
package statecache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/weave/client"
	"github.com/bureau-foundation/weave/lib/codec"
)

// magic identifies a weave state cache file.
var magic = [4]byte{'W', 'V', 'S', 'C'}

// formatVersion is bumped on incompatible layout changes. A version
// mismatch fails the load; the caller falls back to a full sync.
const formatVersion = 1

// headerSize is magic (4) + version (1) + compression tag (1) +
// uncompressed size (8).
const headerSize = 14

// Save snapshots the connection and writes it to path atomically
// (temp file plus rename). The payload is zstd-compressed, falling
// back to an uncompressed payload when compression does not shrink
// it.
func Save(path string, conn *client.Connection) error {
	return SaveSnapshot(path, conn.Snapshot(), CompressionZstd)
}

// SaveSnapshot writes an already-captured snapshot with an explicit
// compression choice.
func SaveSnapshot(path string, snapshot *client.Snapshot, tag CompressionTag) error {
	payload, err := codec.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encoding state snapshot: %w", err)
	}

	compressed, err := compress(payload, tag)
	if errors.Is(err, errIncompressible) {
		tag = CompressionNone
		compressed = payload
	} else if err != nil {
		return fmt.Errorf("compressing state snapshot: %w", err)
	}

	file := make([]byte, headerSize+len(compressed))
	copy(file, magic[:])
	file[4] = formatVersion
	file[5] = byte(tag)
	binary.LittleEndian.PutUint64(file[6:], uint64(len(payload)))
	copy(file[headerSize:], compressed)

	temp, err := os.CreateTemp(filepath.Dir(path), ".weave-state-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	defer os.Remove(temp.Name())

	if _, err := temp.Write(file); err != nil {
		temp.Close()
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := temp.Close(); err != nil {
		return fmt.Errorf("closing state file: %w", err)
	}
	if err := os.Rename(temp.Name(), path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// Load reads a snapshot from path and restores the connection from
// it. Callers should treat any error as "start from a full sync"; a
// missing file satisfies errors.Is(err, os.ErrNotExist).
func Load(path string, conn *client.Connection) error {
	snapshot, err := LoadSnapshot(path)
	if err != nil {
		return err
	}
	return conn.Restore(snapshot)
}

// LoadSnapshot reads and decodes a snapshot without applying it.
func LoadSnapshot(path string) (*client.Snapshot, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	if len(file) < headerSize {
		return nil, fmt.Errorf("state file %s: truncated header (%d bytes)", path, len(file))
	}
	if [4]byte(file[:4]) != magic {
		return nil, fmt.Errorf("state file %s: bad magic", path)
	}
	if file[4] != formatVersion {
		return nil, fmt.Errorf("state file %s: unsupported format version %d", path, file[4])
	}
	tag := CompressionTag(file[5])
	uncompressedSize := binary.LittleEndian.Uint64(file[6:])

	payload, err := decompress(file[headerSize:], tag, int(uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("state file %s: %w", path, err)
	}

	var snapshot client.Snapshot
	if err := codec.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("state file %s: decoding snapshot: %w", path, err)
	}
	return &snapshot, nil
}
