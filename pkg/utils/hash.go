package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

func HashBytes(data []byte) string {
	hash := md5.Sum(data)
	return fmt.Sprintf("%x", hash)
}

// HashParts joins parts with a unit separator before hashing so
// ("ab","c") and ("a","bc") differ.
func HashParts(parts ...string) string {
	return HashString(strings.Join(parts, "\x1f"))
}
