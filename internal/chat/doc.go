// Package chat implements the message relay between users and the dialogue engine.
//
// # Watermark Sync
//
// Service.Sync is the main client call. The client sends its watermark, the
// timestamp of the newest message it has, and optionally a line of text.
// The text is stored and handed to the Bridge; then every message in the
// user's room newer than the watermark is returned in ascending order,
// together with any onboarding prompts still open. A zero watermark with
// nothing to show starts the welcome conversation.
//
// Text starting with the restart command or the external-intent prefix is
// dropped before ingestion.
//
// # Dialogue Bridge
//
// Bridge.Converse sends one turn to the engine and stores each reply as a
// bot message, styled as optional, in engine order. One notification follows
// when anything was stored. Engine failures are logged and swallowed: a sync
// never fails because the engine is down.
package chat
