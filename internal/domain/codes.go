package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"time"
)

const codeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

var codePattern = regexp.MustCompile(`^CERT-\d{4}-[a-z0-9]{8}$`)

// CodeGenerator produces candidate certificate codes. Uniqueness is enforced by storage.
type CodeGenerator func(now time.Time) (string, error)

// RandomCode returns a code of the form CERT-<year>-<8 lowercase alphanumerics>.
func RandomCode(now time.Time) (string, error) {
	suffix := make([]byte, 8)
	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		suffix[i] = codeAlphabet[n.Int64()]
	}
	return fmt.Sprintf("CERT-%04d-%s", now.UTC().Year(), suffix), nil
}

// ValidCode reports whether code has the certificate code format.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}
