// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

/*
Package backup takes scheduled snapshots of the badger store that holds
restrictions, blocks, download grants and auth sessions.

Each snapshot is a full badger backup stream, zstd-compressed, written
to a temporary file and renamed into place once its SHA-256 checksum is
known. Snapshot metadata lives in metadata.json next to the archives.

Retention:
  - MinCount newest snapshots are always kept
  - snapshots older than MaxAge are removed
  - beyond MaxCount the oldest are removed

Restore loads a snapshot into an empty badger instance. It is meant for
offline recovery; the running server never restores into its live store.

The Manager implements RunWithContext and is supervised in the data layer
as "storage-backup".
*/
package backup
