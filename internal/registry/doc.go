// Package registry persists which services have been deployed and
// which on-disk artifacts belong to them.
//
// It currently supports:
//   - A dependency-free file backend (journal + snapshot)
//   - An optional SQLite backend (build tag "sqlite")
package registry
