package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFound(t *testing.T) {
	err := NotFound("Member", "42")

	assert.Equal(t, "Member not found with id 42", err.Error())
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(fmt.Errorf("load member: %w", err), ErrNotFound))
	assert.False(t, errors.Is(err, ErrInvalidStatusTransition))

	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))
	assert.Equal(t, "Member", nf.Kind)
}

func TestInvalidTransition(t *testing.T) {
	err := InvalidTransition("Loan has reached the maximum of %d extensions", 2)

	assert.Equal(t, "Loan has reached the maximum of 2 extensions", err.Error())
	assert.True(t, errors.Is(err, ErrInvalidStatusTransition))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestValidationError(t *testing.T) {
	var v ValidationError
	assert.NoError(t, v.OrNil())

	v.Add("name", "name is required")
	err := v.OrNil()
	assert.Error(t, err)
	assert.Equal(t, "validation", Kind(err))
}

func TestKind(t *testing.T) {
	cases := map[string]error{
		"":                   nil,
		"not_found":          NotFound("Book", 1),
		"invalid_transition": InvalidTransition("nope"),
		"conflict":           Conflict("isbn taken"),
		"unauthorized":       ErrUnauthorized,
		"rate_limited":       fmt.Errorf("login: %w", ErrRateLimited),
		"unexpected":         errors.New("boom"),
	}
	for want, err := range cases {
		assert.Equal(t, want, Kind(err), "error %v", err)
	}
}
