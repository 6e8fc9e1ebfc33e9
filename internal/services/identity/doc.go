// Package identity manages creation, encryption and loading of the local identity.
//
// It enforces passphrase policy, generates the long-term Diffie-Hellman key
// pair under the directory's domain parameters, and persists it via the
// domain.IdentityStore.
package identity
