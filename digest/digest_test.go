package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestSumKnownVector(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Sum())
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Sum(""))
	assert.Equal(t, sha256Hex("abc"), Sum("abc"))
}

func TestSumConcatenatesWithoutSeparator(t *testing.T) {
	assert.Equal(t, Sum("ab"), Sum("a", "b"))
	assert.Equal(t, Sum("abc"), Sum("a", "", "bc"))
}

func TestSumIsDeterministicAndOrdered(t *testing.T) {
	assert.Equal(t, Sum("a", "b"), Sum("a", "b"))
	assert.NotEqual(t, Sum("a", "b"), Sum("b", "a"))
}

func TestSumIsLowercaseHex(t *testing.T) {
	out := SHA512("x")
	assert.Len(t, out, 128)
	for _, r := range out {
		assert.Contains(t, "0123456789abcdef", string(r))
	}
	assert.Len(t, SHA1("x"), 40)
}

func TestPasswordHashFormula(t *testing.T) {
	salt := sha256Hex("ALICE")
	want := sha256Hex(salt + "secret")
	assert.Equal(t, want, PasswordHash("Alice", "secret"))
	assert.Equal(t, want, PasswordHash("alice", "secret"))
	assert.NotEqual(t, PasswordHash("alice", "secret"), PasswordHash("bob", "secret"))
}

func TestLoginProof(t *testing.T) {
	hash := PasswordHash("Alice", "secret")
	assert.Equal(t, sha256Hex(hash+"tok123"), LoginProof(hash, "tok123"))
	assert.NotEqual(t, LoginProof(hash, "tok123"), LoginProof(hash, "tok124"))
}

func TestPasswordHashUppercasesUnicode(t *testing.T) {
	// ß has no single-rune uppercase form; full case mapping yields "SS".
	assert.Equal(t, PasswordHash("STRASSE", "pw"), PasswordHash("straße", "pw"))
}

func TestByName(t *testing.T) {
	for name, want := range map[string]string{
		"":        SHA256("x"),
		"sha256":  SHA256("x"),
		"SHA-256": SHA256("x"),
		"sha1":    SHA1("x"),
		"sha512":  SHA512("x"),
	} {
		f, err := ByName(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, f("x"), name)
	}

	_, err := ByName("md4")
	assert.Error(t, err)
}
