package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// UserIDRegex matches speaker and operator identifiers.
	UserIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// SessionUUIDRegex matches the session uuid carried by speaker requests.
	SessionUUIDRegex = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)
)

const (
	maxEmojiRunes = 8
	maxSpeakRunes = 1000
)

// ValidateUserID validates a speaker user id
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user ID is required")
	}
	if len(userID) > 64 {
		return fmt.Errorf("user ID is too long (max 64 characters)")
	}
	if !UserIDRegex.MatchString(userID) {
		return fmt.Errorf("invalid user ID format")
	}
	return nil
}

// ValidateSessionUUID validates the session uuid of a speaker request
func ValidateSessionUUID(sessionUUID string) error {
	if sessionUUID == "" {
		return fmt.Errorf("session UUID is required")
	}
	if len(sessionUUID) > 64 {
		return fmt.Errorf("session UUID is too long (max 64 characters)")
	}
	if !SessionUUIDRegex.MatchString(sessionUUID) {
		return fmt.Errorf("invalid session UUID format")
	}
	return nil
}

// ValidateOperator validates an admin operator name
func ValidateOperator(operator string) error {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return fmt.Errorf("operator is required")
	}
	if len(operator) < 3 {
		return fmt.Errorf("operator must be at least 3 characters")
	}
	if len(operator) > 50 {
		return fmt.Errorf("operator is too long (max 50 characters)")
	}
	if !UserIDRegex.MatchString(operator) {
		return fmt.Errorf("operator contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateEmoji accepts a short run of symbols. Letters and digits are
// rejected so free text cannot be smuggled through the reaction channel.
func ValidateEmoji(emoji string) error {
	if emoji == "" {
		return fmt.Errorf("emoji is required")
	}
	if !utf8.ValidString(emoji) {
		return fmt.Errorf("emoji contains invalid characters")
	}
	if utf8.RuneCountInString(emoji) > maxEmojiRunes {
		return fmt.Errorf("emoji is too long (max %d runes)", maxEmojiRunes)
	}
	for _, r := range emoji {
		if r < utf8.RuneSelf || unicode.IsLetter(r) || unicode.IsDigit(r) {
			return fmt.Errorf("emoji must not contain letters, digits or ASCII")
		}
	}
	return nil
}

// ValidateSpeakText validates text sent for synthesis
func ValidateSpeakText(text string) error {
	if err := ValidateNonEmptyString(text, "text"); err != nil {
		return err
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("text contains invalid characters")
	}
	return ValidateStringLength(text, 1, maxSpeakRunes, "text")
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
