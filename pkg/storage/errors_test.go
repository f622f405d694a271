package storage

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

func TestWrapError_IsKindAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := newTransientError("upload 'a/b'", cause)

	assert.ErrorIs(t, err, ErrTransient)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, "transient backend error: upload 'a/b': connection reset", err.Error())
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("noop", nil))

	err := classify("put", errors.New("boom"))
	assert.ErrorIs(t, err, ErrTransient)

	auth := newAuthError("s3", errors.New("403"))
	err = classify("put", auth)
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.NotErrorIs(t, err, ErrTransient)

	err = classify("put", fmt.Errorf("wrapped: %w", ErrInvalidPath))
	assert.ErrorIs(t, err, ErrInvalidPath)
	assert.NotErrorIs(t, err, ErrTransient)
}

func TestGoogleError(t *testing.T) {
	unauthorized := &googleapi.Error{Code: http.StatusUnauthorized}
	assert.ErrorIs(t, googleError(unauthorized), ErrAuthentication)

	scopes := &googleapi.Error{
		Code:   http.StatusForbidden,
		Errors: []googleapi.ErrorItem{{Reason: "insufficientPermissions"}},
	}
	assert.ErrorIs(t, googleError(scopes), ErrAuthentication)

	for _, reason := range []string{"insufficientFilePermissions", "storageQuotaExceeded", ""} {
		forbidden := &googleapi.Error{
			Code:   http.StatusForbidden,
			Errors: []googleapi.ErrorItem{{Reason: reason}},
		}
		err := googleError(forbidden)
		assert.ErrorIs(t, err, ErrTransient, reason)
		assert.NotErrorIs(t, err, ErrAuthentication, reason)
	}

	refresh := &url.Error{Op: "Post", URL: "https://oauth2.googleapis.com/token", Err: &oauth2.RetrieveError{
		ErrorCode: "invalid_grant",
	}}
	assert.ErrorIs(t, googleError(refresh), ErrAuthentication)

	limited := &googleapi.Error{
		Code:   http.StatusForbidden,
		Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}},
	}
	err := googleError(limited)
	assert.ErrorIs(t, err, ErrTransient)

	var gErr *googleapi.Error
	assert.ErrorAs(t, err, &gErr)

	other := &googleapi.Error{Code: http.StatusInternalServerError}
	assert.Equal(t, error(other), googleError(other))
	assert.NoError(t, googleError(nil))
}
