// Package store provides persistent storage for the assistance gateway using SQLite.
//
// # Data Models
//
//   - ChatRequest: a request for live assistance with lifecycle status
//     open -> accepted -> closed (or open -> closed on requester cancel)
//   - Message: an immutable chat message between two participants, addressed
//     by an order-independent conversation key (see PairKey)
//
// # Concurrency Guarantees
//
// All writes to a ChatRequest are linearized at the database through guarded
// updates: UpdateRequestStatus only applies when the row's status still equals
// the expected value, so exactly one of any set of concurrent claimers can
// move a request out of open. There is no external lock.
//
// Message appends are idempotent per (sender, dedup token): a retried append
// with the same token returns ErrDuplicateSend and the original message stays
// retrievable via GetMessageByDedupToken.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as fixed-width UTC text so that lexicographic order
// matches chronological order in range queries.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: requested entity does not exist
//   - ErrStatusConflict: guarded update lost a race; re-read for current state
//   - ErrDuplicateSend: dedup token reuse; treat as a successful no-op
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") for
// integration tests with real SQLite.
package store
