// Package storage defines the records the authorization server operates on and
// the narrow lookup interfaces the decision logic consumes.
//
// The core never issues queries of its own. It asks for exactly one record by
// key (a client by id, an identity by application/type/remote-id, a pending
// federation state by correlation id) and hands back new or updated records
// for persistence. That keeps the authorization algorithms independent of any
// particular backend.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development and testing
//   - storage/valkey: Valkey/Redis-compatible distributed storage for production
package storage
