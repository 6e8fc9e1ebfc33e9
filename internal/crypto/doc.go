// Package crypto exposes the primitives used by relaychat.
//
// Contents
//
//   - Binary modular exponentiation over math/big (ModPow)
//   - Transport encoding of large integers (EncodeInt, DecodeInt, DecodeHexInt)
//   - Finite-field Diffie–Hellman groups and key pairs (DomainParams,
//     GenerateKeyPair, ComputeSharedSecret)
//   - Key derivation and AEAD encryption behind injected capabilities
//     (Suite with SecureRandom, Hash256 and AEADCipher)
//   - Best-effort memory wiping for secrets (Wipe, WipeInt)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// Shared secrets and ephemeral private exponents are wiped as soon as the
// symmetric key is derived. No function returns an ephemeral private key.
package crypto
