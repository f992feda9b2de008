// Package security implements the password hashing scheme used by the
// user store: PBKDF2-HMAC-SHA512, stored as "iter&hex(key)&hex(salt)",
// verified in constant time.
package security

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"github.com/relaychat/relaychat/internal/errkind"
)

// DefaultIterations matches the original's PBKDF2 iteration count used at
// registration time. Stored per-password alongside the hash so it can be
// bumped later without invalidating existing rows.
const DefaultIterations = 210_000

const (
	saltLen = 16
	keyLen  = 64
)

// HashPassword derives a new PBKDF2-HMAC-SHA512 key from password with a
// fresh random salt, returning "iter&hex(key)&hex(salt)".
func HashPassword(password string, iter int) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", errkind.Wrap(errkind.Internal, "generating salt", err)
	}

	key := pbkdf2.Key([]byte(password), salt, iter, keyLen, sha512.New)

	return fmt.Sprintf("%d&%s&%s", iter, hex.EncodeToString(key), hex.EncodeToString(salt)), nil
}

// Verify re-derives the key from password using the iteration count and
// salt embedded in storedHash, and compares in constant time against the
// stored key.
func Verify(password, storedHash string) (bool, error) {
	iter, key, salt, err := parse(storedHash)
	if err != nil {
		return false, err
	}

	derived := pbkdf2.Key([]byte(password), salt, iter, len(key), sha512.New)
	return subtle.ConstantTimeCompare(derived, key) == 1, nil
}

func parse(storedHash string) (iter int, key, salt []byte, err error) {
	parts := strings.SplitN(storedHash, "&", 3)
	if len(parts) != 3 {
		return 0, nil, nil, errkind.New(errkind.Internal, "malformed password hash")
	}

	iter, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, nil, nil, errkind.Wrap(errkind.Internal, "malformed iteration count", err)
	}

	key, err = hex.DecodeString(parts[1])
	if err != nil {
		return 0, nil, nil, errkind.Wrap(errkind.Internal, "malformed key hex", err)
	}

	salt, err = hex.DecodeString(parts[2])
	if err != nil {
		return 0, nil, nil, errkind.Wrap(errkind.Internal, "malformed salt hex", err)
	}

	return iter, key, salt, nil
}
