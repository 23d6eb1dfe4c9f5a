// Package remotesync is the transport-level client for the external scoring
// service.
//
// Every balance push transmits the absolute current balance together with a
// deterministic fingerprint header, which makes at-least-once delivery
// idempotent on the remote side. Remote failures are never fatal to the
// points flow that triggered them: they surface as a typed RemoteSyncError
// and, when a push queue is configured, the failed push is parked for a later
// reconciliation pass.
package remotesync
