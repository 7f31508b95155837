// Package scheduler runs timed conversation triggers.
//
// Events are either start_conversation (one user) or schedule_conversation
// (a broadcast that fans out into per-user start events when it fires).
// The Runner claims due events one at a time; a claimed event is completed
// whether or not it succeeded, so nothing is retried.
//
// The declarative schedule file lists broadcast triggers:
//
//	run_at;conversation
//	2026-11-02 09:00;request_diary_01
//
// or in TOML:
//
//	[[conversation]]
//	run_at = 2026-11-02T09:00:00Z
//	name = "request_diary_01"
//
// Reconcile adds each future entry once; entries in the past are ignored.
package scheduler
