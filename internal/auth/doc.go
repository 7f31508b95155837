// Package auth provides authentication for parley.
//
// # Authentication Methods
//
//   - JWT Tokens: app users authenticate with HS256 tokens carrying the
//     identity provider's subject, uids, email and preferred_username claims.
//     The first request for an unknown subject creates the user and profile.
//
//   - Shared secret: the dialogue engine's callbacks (ingress, task ingress,
//     names lookup) carry a backend_secret checked by SecretChecker. The
//     configured value may be a bcrypt hash.
//
//   - Demo identity: the unauthenticated demo endpoints use the client
//     address plus an institution postfix as username.
//
// # Usage
//
//	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
//	resolver := auth.NewResolver(store, logger)
//	mux.Handle("/api/v1/messages/", auth.HTTPAuthMiddleware(resolver, verifier)(handler))
//
// Handlers read the caller with FromContext.
package auth
