package apperr_test

import (
	"errors"
	"testing"

	"privacydesk/backend/internal/apperr"

	"github.com/stretchr/testify/assert"
)

func TestValidationf_WrapsSentinel(t *testing.T) {
	err := apperr.Validationf("priority %q is not one of low/normal/high", "urgent")

	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Contains(t, err.Error(), "urgent")
}

func TestTransportf_WrapsSentinel(t *testing.T) {
	cause := errors.New("connection refused")
	err := apperr.Transportf(cause, "subscribe actor feed")

	assert.True(t, errors.Is(err, apperr.ErrTransport))
	assert.Contains(t, err.Error(), "subscribe actor feed")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, apperr.IsRetryable(apperr.Transportf(errors.New("timeout"), "publish")))
	assert.False(t, apperr.IsRetryable(apperr.Validationf("empty body")))
	assert.False(t, apperr.IsRetryable(apperr.ErrConversationClosed))
	assert.False(t, apperr.IsRetryable(nil))
}
