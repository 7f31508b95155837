// Package notify delivers best-effort notifications to users.
//
// # Push
//
// A Sender delivers one message to one push id. The backend is chosen by
// notifications.backend: OneSignal players, a Matrix room, or a Telegram chat.
// Users without a push id are skipped with a warning. Unknown users are an
// error, except address-derived demo identities, which are ignored.
//
// # Web Ping
//
// Browser clients have no push channel. Notify can leave a ping marker in the
// store; the ping endpoint long-polls with PingWaiter, which consumes the
// marker at most once. PingHub wakes waiters in the same process immediately.
//
// # Push ID Refresh
//
// Refresher reads the OneSignal device directory and copies the most recently
// active device id of each user onto their profile.
package notify
