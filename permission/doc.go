// Package permission implements the static role-to-permission model used by
// the credential engine: a closed set of marketplace roles, a registry that
// maps "resource:action" permission names to bitmask positions, and an
// immutable Table that answers HasPermission checks without I/O.
//
// # Mask sizes
//
// Supported widths: 64 and 128 bits. A mask width is selected at registry
// construction time and is immutable thereafter. Bit positions are assigned
// by [Registry.Register] and are stable for the lifetime of the process.
// The highest bit is reserved for the "*" wildcard grant.
//
// # Architecture boundaries
//
// This package is a pure in-memory data structure with no I/O. After
// [Table.Freeze], every lookup is a read over prebuilt masks and is safe for
// unbounded concurrent use.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Allow role or permission mutation after Freeze.
//   - Import the root careauth package (no import cycles).
package permission
