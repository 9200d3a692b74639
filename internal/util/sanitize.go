package util

import (
	"strings"
	"unicode/utf8"
)

const phoneMask = "****"

// ContainsSuspicious reports markup or template fragments in free text.
func ContainsSuspicious(s string) bool {
	badChars := []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"}
	lower := strings.ToLower(s)
	for _, c := range badChars {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// MaskPhone keeps the first 3 and last 4 characters of a phone number and
// replaces everything between with a fixed mask. Short values are fully masked.
func MaskPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if utf8.RuneCountInString(phone) <= 7 {
		return phoneMask
	}
	runes := []rune(phone)
	return string(runes[:3]) + phoneMask + string(runes[len(runes)-4:])
}
