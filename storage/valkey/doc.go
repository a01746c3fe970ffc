// Package valkey provides a Valkey storage backend for the oauthd library.
//
// Valkey is a high-performance key-value store that is wire-compatible with
// Redis. This package implements all storage interfaces required by the
// oauthd library, making it suitable for production deployments that require:
//
//   - Distributed storage for horizontal scaling
//   - Persistence across server restarts
//   - Automatic TTL-based expiration
//
// # Implemented Interfaces
//
// The Store type implements all required storage interfaces:
//
//   - [storage.ClientStore]: OAuth client records and secret validation
//   - [storage.TokenStore]: Authorization codes, access tokens, and refresh tokens
//   - [storage.IdentityStore]: Users, identities, and roles
//   - [storage.StateStore]: Single-use federation handshake state
//
// # Key Schema
//
// All keys use a configurable prefix (default "oauthd:") to avoid conflicts
// with other applications sharing the same Valkey instance:
//
//	{prefix}client:{clientID}                 -> JSON(Client)
//	{prefix}token:{tokenID}                   -> JSON(OAuthToken) (with TTL)
//	{prefix}refresh_index:{refreshTokenID}    -> SET of linked access token IDs
//	{prefix}identity:{identityID}             -> JSON(UserIdentity)
//	{prefix}identity_name:{app}:{type}:{rid}  -> identityID (name index)
//	{prefix}user:{userID}                     -> JSON(User)
//	{prefix}role:{app}:{name}                 -> JSON(Role)
//	{prefix}state:{stateID}                   -> JSON(AuthenticatorState) (with TTL)
//
// # Atomic Operations
//
// Federation handshake state is consumed with GETDEL, so a given state id can
// be redeemed at most once even when callbacks race across server instances.
//
// Tokens and handshake states carry a Valkey TTL derived from their own
// expiry, so expired records are evicted by the server without a cleanup
// loop.
//
// # Usage
//
//	store, err := valkey.New(valkey.Config{
//		Address:   "localhost:6379",
//		KeyPrefix: "oauthd:",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	server, err := oauth.New(store, store, store, store, registry, config, logger)
package valkey
