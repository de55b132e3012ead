package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rowpledge/internal/domain"
)

type sample struct {
	ChatID string `json:"chat_id" validate:"required"`
	Meters int64  `json:"meters,omitempty" validate:"gt=0"`
}

func TestValidateReportsJSONFieldNames(t *testing.T) {
	v := New()

	err := v.Validate(sample{})
	require.ErrorIs(t, err, domain.ErrValidation)

	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, map[string]string{
		"chat_id": "is required",
		"meters":  "must be greater than 0",
	}, verr.Fields)

	require.NoError(t, v.Validate(sample{ChatID: "c", Meters: 1}))
}
