package util

import (
	"strings"

	"github.com/google/uuid"
)

// IsValidUUID reports whether s is a hyphenated 8-4-4-4-12 UUID.
func IsValidUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

const abbreviatedUUIDPrefixLength = 8

// AbbreviateUUID shortens a UUID for text output. Other values are returned
// unchanged.
func AbbreviateUUID(id string) string {
	if !IsValidUUID(id) {
		return id
	}
	return strings.ToLower(id[:abbreviatedUUIDPrefixLength])
}
