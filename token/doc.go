// Package token turns opaque credential values into wire tokens.
//
// In the default opaque mode the wire token IS the opaque value. In the
// signed modes the opaque value rides inside a JWT envelope so resource
// servers can read principal and role claims without a lookup, but the
// envelope never replaces record validation: the engine always resolves
// the enclosed value against its durable record, so revocation wins over
// a valid signature.
package token
