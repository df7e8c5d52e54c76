// Package store persists one state document per client ID.
//
// A Backend only moves opaque blobs. Store owns everything above that:
// document keys, JSON encoding, schema migration on load, optional snappy
// framing, quarantine of corrupt documents, and per-client write
// serialization.
//
// # Backends
//
//   - sqlite: single database file in WAL mode (default)
//   - file: one document per file under a directory
//   - s3: bucket and key prefix, S3-compatible endpoints supported
//   - redis: key prefix, SCAN listing
//   - postgres: statesync_documents table
//   - memory: tests and scenario runs
//
// # Database Configuration (sqlite)
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - PRAGMA user_version tracks the table schema
package store
