// Package careauth is the credential and verification engine of the caremesh
// healthcare marketplace: opaque access/refresh token pairs with atomic
// rotation, one-time passcode challenges with attempt limiting and lockout,
// multi-method two-factor verification, and bitmask-based role authorization.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build]. Per-key atomicity (refresh rotation, OTP attempt counting,
// backup-code consumption) is delegated to the caller-provided
// [CredentialStore] through conditional updates, so correctness holds across
// processes, not just goroutines.
//
// # Architecture boundaries
//
// careauth is the public surface. It exposes [Engine], [Builder], [Config],
// the [CredentialStore] and [PrincipalProvider] integration interfaces, and
// value types. Helper crypto lives under internal/ and is never exported.
// Durable storage of token records and OTP challenges belongs to the caller;
// the engine owns only the verification logic and an optional Redis mirror
// of in-flight challenge state used to short-circuit hot-path rejections.
//
// # What this package must NOT do
//
//   - Deliver OTP codes. Generation returns the plaintext code exactly once
//     for the caller's delivery pipeline; the engine never transmits or
//     persists it.
//   - Expose Redis clients, store internals, or encoding details in its
//     public API.
//   - Depend on the cache for correctness. Every verification decision is
//     anchored in the durable store; the cache only saves round-trips.
package careauth
