// Package password provides Argon2id password hashing for marketplace
// identity services built on the credential engine.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher.NeedsRehash] reports when a stored hash was produced with
// weaker parameters than the current configuration, so callers can
// transparently re-hash on the next successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy and
// credential storage belong to the caller; the engine core never sees a
// password.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other careauth package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
