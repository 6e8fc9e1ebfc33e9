// Package message sends and receives encrypted messages.
//
// Send takes one roster snapshot, seals the plaintext for every other
// participant and publishes the whole bundle in a single call. Nothing is
// published when any step fails.
//
// Receive paths (a subscription delivering one envelope at a time, or a
// one-shot fetch from the mailbox) decrypt each delivery on its own: a bad
// envelope is dropped and reported without affecting the others. Decrypted
// messages are appended to the MessageLog. Deliveries already seen are
// rejected with ErrReplay.
package message
