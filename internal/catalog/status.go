// internal/catalog/status.go
package catalog

import "libradesk/internal/apperr"

// ParseCopyStatus accepts the canonical status names.
func ParseCopyStatus(s string) (CopyStatus, bool) {
	switch st := CopyStatus(s); st {
	case CopyAvailable, CopyOnLoan, CopyReserved, CopyLost, CopyWithdrawn:
		return st, true
	}
	return "", false
}

// ValidateShelfChange decides whether staff may move a copy from one status
// to another. ON_LOAN and RESERVED are owned by circulation and cannot be
// set or cleared by hand.
func ValidateShelfChange(from, to CopyStatus) error {
	switch to {
	case CopyAvailable, CopyLost, CopyWithdrawn:
	case CopyOnLoan, CopyReserved:
		return apperr.InvalidTransition("Copy status %s is managed by circulation", to)
	default:
		return apperr.InvalidTransition("Unknown copy status %q", to)
	}

	switch from {
	case CopyOnLoan:
		return apperr.InvalidTransition("Copy is on loan")
	case CopyReserved:
		return apperr.InvalidTransition("Copy is held for a reservation")
	case CopyWithdrawn:
		if to != CopyWithdrawn {
			return apperr.InvalidTransition("Copy has been withdrawn")
		}
	}
	if from == to {
		return apperr.InvalidTransition("Copy is already %s", to)
	}
	return nil
}
