package provider

import (
	"fmt"
	"strings"
)

// Classification is the versioned moderation-error table for one provider
// API generation. Classification lives in the adapter, not the resolver:
// when the provider changes its codes, only this table moves.
type Classification struct {
	Version string
	// ModerationCodes are failure codes meaning the request was rejected by
	// content moderation.
	ModerationCodes map[string]bool
	// TimeoutCodes are failure codes meaning the job expired provider-side.
	TimeoutCodes map[string]bool
}

// DefaultClassification covers the comfy-graph image API in production today.
func DefaultClassification() Classification {
	return Classification{
		Version: "2026-01",
		ModerationCodes: map[string]bool{
			"100031": true,
		},
		TimeoutCodes: map[string]bool{
			"100040": true,
		},
	}
}

// Classify turns a failure code and message into a tagged *Error. Moderation
// rejections are attributed to the user asset when the provider's message
// references one of the user-photo slot nodes; otherwise the template is
// assumed at fault, which keeps the fallback search alive.
func (c Classification) Classify(code, message string, userSlots []string) *Error {
	e := &Error{Kind: KindTransient, Code: code, Message: message}

	switch {
	case matches(c.ModerationCodes, code, message):
		e.Kind = KindModerationTemplate
		for _, slot := range userSlots {
			if strings.Contains(message, fmt.Sprintf("%s.inputs.image", slot)) {
				e.Kind = KindModerationUser
				break
			}
		}
	case matches(c.TimeoutCodes, code, message):
		e.Kind = KindTimeout
	}
	return e
}

// matches accepts both envelope codes and codes quoted inside a failure
// message. A job that dies mid-generation reports generateStatus as its code
// and carries the real rejection code in its message text.
func matches(codes map[string]bool, code, message string) bool {
	if codes[code] {
		return true
	}
	for c := range codes {
		if strings.Contains(message, c) {
			return true
		}
	}
	return false
}
