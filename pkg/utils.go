package pkg

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"regexp"
	"strconv"
)

// CloudFormation logical IDs and stack names share this alphabet.
var validStackRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*$`)

// Getenv returns the value of an environment variable; defaults to the fallback string.
func Getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetenvBool returns the boolean value of an environment variable; defaults to false.
func GetenvBool(key string) bool {
	val, _ := strconv.ParseBool(os.Getenv(key))
	return val
}

func IsValidStackName(name string) bool {
	return len(name) <= 128 && validStackRegex.MatchString(name)
}

// ContentHash returns a short hex digest of the JSON encoding of v.
func ContentHash(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:4]), nil
}
