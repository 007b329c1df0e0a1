package cryptoutils

import "golang.org/x/crypto/argon2"

// DeriveDiskKey stretches a passphrase-like secret into a 32-byte key
// suitable for at-rest encryption, using Argon2id. No kernel operation
// calls it.
func DeriveDiskKey(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, 32)
}
