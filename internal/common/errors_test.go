package common

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("load: %w", NotFound("conversation not found"))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, "conversation not found", PublicMessage(err))
}

func TestRateLimitedCarriesRetryAt(t *testing.T) {
	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	err := RateLimited("too many", at)

	var e *Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, at, e.RetryAt)

	status, code := HTTPStatus(err)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, 42900, code)
}

func TestProviderErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := Provider("translation failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrProvider)
	assert.Equal(t, "translation failed: boom", err.Error())
}

func TestGormNotFoundMapping(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(gorm.ErrRecordNotFound))
	assert.ErrorIs(t, NotFoundIfMissing(gorm.ErrRecordNotFound, "message not found"), ErrNotFound)

	other := errors.New("db down")
	assert.Same(t, other, NotFoundIfMissing(other, "x"))
	assert.Equal(t, "internal error", PublicMessage(other))

	status, _ := HTTPStatus(other)
	assert.Equal(t, http.StatusInternalServerError, status)
}
