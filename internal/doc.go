// Package internal contains helper utilities that are intentionally private
// to careauth: secure random generation for token secrets and one-time
// passcodes, and the salted hashing used to keep secrets out of storage.
//
// # What this package must NOT do
//
//   - Export types that appear in the public careauth API.
//   - Be imported by any package outside the careauth module.
package internal
