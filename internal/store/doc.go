// Package store provides file-based persistence for relaychat's local data.
//
// It contains concrete implementations of the domain storage interfaces.
// All methods are concurrency-safe via internal locking. Stored files
// typically live under the user's configured home directory.
//
// The package includes:
//   - the passphrase-sealed identity (IdentityFileStore)
//   - per-relay account profiles (AccountFileStore)
//   - the decrypted message log, in memory (MemoryLog) or in a bbolt
//     database (BoltLog)
package store
