// Package digest implements the one-way hash used by the login handshake.
//
// The server stores a per-user password hash salted with the hashed, uppercased
// username. A login proof binds that hash to a single-use challenge token:
//
//	passwordHash = H(H(UPPER(username)) + password)
//	proof        = H(passwordHash + challenge)
//
// H is a hex-encoded (lowercase) digest over the plain concatenation of its
// inputs. The client and server must agree on H bit for bit.
package digest

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Func hashes the concatenation of parts and returns lowercase hex.
type Func func(parts ...string) string

// Algorithm names accepted by ByName.
const (
	AlgorithmSHA1   = "sha1"
	AlgorithmSHA256 = "sha256"
	AlgorithmSHA512 = "sha512"
)

var (
	SHA1   Func = newFunc(sha1.New)
	SHA256 Func = newFunc(sha256.New)
	SHA512 Func = newFunc(sha512.New)
)

// Default is the digest used when none is configured.
var Default = SHA256

func newFunc(h func() hash.Hash) Func {
	return func(parts ...string) string {
		d := h()
		for _, p := range parts {
			d.Write([]byte(p))
		}
		return hex.EncodeToString(d.Sum(nil))
	}
}

// Sum applies Default to parts.
func Sum(parts ...string) string {
	return Default(parts...)
}

// ByName resolves an algorithm name ("sha256", "SHA-1", ...) to a Func.
func ByName(name string) (Func, error) {
	n := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "-", ""))
	switch n {
	case "", AlgorithmSHA256:
		return SHA256, nil
	case AlgorithmSHA1:
		return SHA1, nil
	case AlgorithmSHA512:
		return SHA512, nil
	default:
		return nil, fmt.Errorf("digest: unknown algorithm %q", name)
	}
}

var upper = cases.Upper(language.Und)

// PasswordHash derives the stored password hash for username with h.
func (h Func) PasswordHash(username, password string) string {
	salt := h(upper.String(username))
	return h(salt, password)
}

// LoginProof binds a password hash to a server-issued challenge token.
func (h Func) LoginProof(passwordHash, challenge string) string {
	return h(passwordHash, challenge)
}

// PasswordHash derives the stored password hash with Default.
func PasswordHash(username, password string) string {
	return Default.PasswordHash(username, password)
}

// LoginProof computes the login proof with Default.
func LoginProof(passwordHash, challenge string) string {
	return Default.LoginProof(passwordHash, challenge)
}
