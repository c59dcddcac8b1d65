package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const tokenSecretSize = 32

// NewTokenValue generates an opaque bearer token value: 256 bits from
// crypto/rand, base64url without padding. The value itself is never
// persisted; stores hold only its digest.
func NewTokenValue() (string, error) {
	var raw [tokenSecretSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// TokenDigest is the storage key for a token value.
func TokenDigest(value string) [32]byte {
	return sha256.Sum256([]byte(value))
}

// NewSalt generates the per-challenge salt mixed into OTP code hashes.
func NewSalt() ([16]byte, error) {
	var salt [16]byte
	_, err := rand.Read(salt[:])
	return salt, err
}

// HashOTPCode computes the salted digest stored in place of an OTP code.
func HashOTPCode(salt [16]byte, code string) [32]byte {
	h := sha256.New()
	h.Write(salt[:])
	h.Write([]byte(code))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// NewOTP generates a numeric one-time passcode of the given length using
// an unbiased per-digit draw from crypto/rand.
func NewOTP(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}

// NewBackupCode generates one human-typable backup code in AAAA-AAAA
// groups using an uppercase alphabet with ambiguous characters removed.
func NewBackupCode(length int) (string, error) {
	const alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	if length < 8 || length > 32 {
		return "", errors.New("invalid backup code length")
	}

	max := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(length + length/4)
	for i := 0; i < length; i++ {
		if i > 0 && i%4 == 0 {
			b.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// HashBackupCode digests a canonicalized backup code, salted with the
// owning principal id so equal codes across principals never collide.
func HashBackupCode(principalID, canonical string) [32]byte {
	h := sha256.New()
	h.Write([]byte(principalID))
	h.Write([]byte{0})
	h.Write([]byte(canonical))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// CanonicalBackupCode strips separators and upper-cases a user-submitted
// backup code before hashing.
func CanonicalBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}
