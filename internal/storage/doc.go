package storage

// Package storage persists reminder records.
//
// It currently supports:
//   - sqlite: durable single-file database (default)
//   - file: jsonl journal + snapshot, no external dependency
//   - memory: volatile map, for tests and explicitly non-durable setups
