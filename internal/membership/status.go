// internal/membership/status.go
package membership

import (
	"libradesk/internal/apperr"
)

// ParseMemberStatus accepts the canonical status names.
func ParseMemberStatus(s string) (MemberStatus, bool) {
	switch st := MemberStatus(s); st {
	case MemberActive, MemberSuspended, MemberExpired:
		return st, true
	}
	return "", false
}

// ValidateSuspension decides whether a member in status may be suspended.
func ValidateSuspension(status MemberStatus) error {
	switch status {
	case MemberActive:
		return nil
	case MemberSuspended:
		return apperr.InvalidTransition("Member is already suspended")
	case MemberExpired:
		return apperr.InvalidTransition("Cannot suspend an expired member; activate first")
	default:
		return apperr.InvalidTransition("Unknown member status %q", status)
	}
}

// ValidateActivation decides whether a member in status may be activated.
func ValidateActivation(status MemberStatus) error {
	switch status {
	case MemberSuspended, MemberExpired:
		return nil
	case MemberActive:
		return apperr.InvalidTransition("Member is already active")
	default:
		return apperr.InvalidTransition("Unknown member status %q", status)
	}
}

// ValidateExpiry decides whether a member in status may lapse.
func ValidateExpiry(status MemberStatus) error {
	switch status {
	case MemberActive, MemberSuspended:
		return nil
	case MemberExpired:
		return apperr.InvalidTransition("Member is already expired")
	default:
		return apperr.InvalidTransition("Unknown member status %q", status)
	}
}
