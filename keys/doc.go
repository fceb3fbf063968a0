// Package keys manages the lifecycle of post-quantum (ML-DSA) signing keys.
//
// A Store holds one ordered collection of key records. Exactly one record is
// current whenever the store is non-empty; rotation archives the current key
// (its secret is wiped, its public key kept for verification) and installs a
// fresh one. The whole collection can be exported as a password-encrypted blob
// (Argon2id + ChaCha20-Poly1305) and imported back atomically.
//
// Verification is a pure function of data, signature and public key and does
// not need a Store.
package keys
