// Package gateway serves parley's HTTP surface.
//
// # Routes
//
// App endpoints require a bearer JWT; the resolved username is the caller's room:
//
//   - POST /api/v1/messages/ - watermark sync, optionally ingesting text
//   - POST /api/v1/ping/ - long-poll for a web ping
//   - POST /api/v1/config/ - onboarding prompts or engine button texts
//   - POST /api/v1/log/ - client log line into the log.log audit file
//
// Bot endpoints carry the backend secret in the JSON body and answer the plain
// text OK or Nope:
//
//   - POST /api/v1/ingress/ - store a bot message in a room and notify
//   - POST /api/v1/ingress_task/ (and add_task/) - schedule or cancel a conversation
//   - POST /api/v1/get_names/ - name parts for the engine's slots
//
// With demo.enabled the /api/chat/ messages, ping and config routes serve
// unauthenticated callers as <client ip><institution postfix>.
//
// GET /health, GET /health/ready and the metrics path complete the surface.
// When server.grpc_addr is set a gRPC health service runs alongside.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, services, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Listeners are plain TCP, or a tsnet node when tailscale.enabled.
package gateway
