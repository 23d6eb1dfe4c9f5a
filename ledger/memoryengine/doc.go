// Package memoryengine provides an in-memory implementation of the points ledger.
//
// It mirrors the operation surface and guard semantics of the Postgres engine
// and is intended for tests and local development. State is not persisted.
package memoryengine
