package utils

import "github.com/google/uuid"

// GenerateID returns a random UUID string. Used for every row id in the
// engine so ids are safe to mint before the insert.
func GenerateID() string {
	return uuid.NewString()
}

// IsValidUUID reports whether s parses as a UUID.
func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
