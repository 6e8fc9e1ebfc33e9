// Package fanout implements the per-recipient encryption of one message.
//
// # Send
//
// Seal drops the sender from the roster snapshot and, for every remaining
// recipient, generates a fresh ephemeral key pair, combines it with the
// recipient's long-term public key, hashes the shared secret into an AEAD
// key and encrypts the plaintext. The resulting envelopes form one Bundle.
// Recipients are sealed in parallel; envelopes are ordered by recipient id.
// If any recipient fails, no bundle is returned.
//
// # Receive
//
// Open recombines the envelope's ephemeral public key with the local
// identity private key and decrypts. Failures are per envelope.
//
// # Security notes
//
// Ephemeral private keys never leave Seal and are wiped once the shared
// secret has been derived. Shared secrets and symmetric keys are wiped
// after use.
package fanout
