// Package store provides persistent storage for parley using SQLite.
//
// # Data Model
//
//   - Message: an immutable entry in a room's log. A room is named after the
//     user it belongs to; reserved rooms such as log.log exist for tooling.
//   - User: identity plus profile (sub id, push id, submitted settings and the
//     moment onboarding completed).
//   - ScheduledEvent: a pending start_conversation or schedule_conversation
//     trigger. An empty username on schedule_conversation means broadcast.
//   - Web ping markers: one per user, consumed by the ping long-poll.
//
// # Ordering
//
// Timestamps are Unix milliseconds taken when a message is appended. Rooms read
// ascending by (timestamp, insertion sequence), so messages appended in the
// same millisecond keep their order. RoomMessagesSince(room, from) returns
// messages strictly newer than from; from = -1 reads the whole room.
//
// # Claiming events
//
// ClaimNextDue marks the earliest due, unlocked event as locked and returns
// it. Locks older than the lock timeout are treated as abandoned and the
// event is handed out again. CompleteEvent deletes the event.
//
// # Schema
//
// The schema is created on open and later columns are added by idempotent
// migrations checked against pragma_table_info. Foreign keys are enforced and
// the database runs in WAL mode.
//
// # Testing
//
// MockStore is an in-memory Store with the same ordering and claiming
// semantics, for unit tests that do not need SQLite.
package store
