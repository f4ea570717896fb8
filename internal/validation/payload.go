// Package validation checks the user-supplied fields of workflow payloads.
package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxReasonLength bounds free-text reasons, appeal text and evidence.
	MaxReasonLength = 1000
	// MaxFeedbackLength bounds review feedback.
	MaxFeedbackLength = 2000
	// MaxDocLinkLength bounds infraction document links.
	MaxDocLinkLength = 500

	MinRating = 0
	MaxRating = 5
)

var snowflakeRegex = regexp.MustCompile(`^[0-9]{1,20}$`)

// InfractionTypes lists the accepted infraction types in canonical spelling.
var InfractionTypes = []string{"Warning", "Strike", "Suspension", "Demotion", "Termination", "Blacklist"}

// ValidateMemberID checks that id looks like a platform member id.
func ValidateMemberID(id string) error {
	if !snowflakeRegex.MatchString(id) {
		return fmt.Errorf("member id must be 1-20 digits")
	}
	return nil
}

// ValidateRoleID checks that id looks like a platform role id.
func ValidateRoleID(id string) error {
	if !snowflakeRegex.MatchString(id) {
		return fmt.Errorf("role id must be 1-20 digits")
	}
	return nil
}

// ValidateText checks a free-text field. Blank values fail when required.
func ValidateText(field, value string, maxLen int, required bool) error {
	trimmed := strings.TrimSpace(value)
	if required && trimmed == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if utf8.RuneCountInString(value) > maxLen {
		return fmt.Errorf("%s must be at most %d characters", field, maxLen)
	}
	return nil
}

// ValidateDocLink requires an absolute http(s) URL.
func ValidateDocLink(link string) error {
	if strings.TrimSpace(link) == "" {
		return fmt.Errorf("document link is required")
	}
	if len(link) > MaxDocLinkLength {
		return fmt.Errorf("document link must be at most %d characters", MaxDocLinkLength)
	}
	u, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("document link is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("document link must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("document link must include a host")
	}
	return nil
}

// ValidateRating requires a rating in [MinRating, MaxRating].
func ValidateRating(rating *int) error {
	if rating == nil {
		return fmt.Errorf("rating is required")
	}
	if *rating < MinRating || *rating > MaxRating {
		return fmt.Errorf("rating must be between %d and %d", MinRating, MaxRating)
	}
	return nil
}

// NormalizeInfractionType returns the canonical spelling of t.
func NormalizeInfractionType(t string) (string, error) {
	trimmed := strings.TrimSpace(t)
	for _, known := range InfractionTypes {
		if strings.EqualFold(trimmed, known) {
			return known, nil
		}
	}
	return "", fmt.Errorf("infraction type must be one of %s", strings.Join(InfractionTypes, ", "))
}
