package storage

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

var (
	ErrAuthentication       = errors.New("authentication failure")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrInvalidPath          = errors.New("invalid path")
	ErrTransient            = errors.New("transient backend error")
	ErrNotFound             = errors.New("not found")
)

// wrapError carries an error kind together with the backend cause,
// so both errors.Is(err, ErrTransient) and errors.As(err, *sdkError) hold.
type wrapError struct {
	kind  error
	msg   string
	cause error
}

var _ error = (*wrapError)(nil)

func newError(kind error, msg string, cause error) error {
	return &wrapError{
		kind:  kind,
		msg:   msg,
		cause: cause,
	}
}

func newTransientError(msg string, cause error) error {
	return newError(ErrTransient, msg, cause)
}

func newAuthError(msg string, cause error) error {
	return newError(ErrAuthentication, msg, cause)
}

func newConfigError(msg string, cause error) error {
	return newError(ErrInvalidConfiguration, msg, cause)
}

func newPathError(msg string) error {
	return newError(ErrInvalidPath, msg, nil)
}

func (err *wrapError) Error() string {
	if err == nil {
		return "(*wrapError)(nil)"
	}
	message := err.kind.Error() + ": " + err.msg
	if err.cause != nil {
		message += ": " + err.cause.Error()
	}
	return message
}

func (err *wrapError) Unwrap() []error {
	if err.cause == nil {
		return []error{err.kind}
	}
	return []error{err.kind, err.cause}
}

// classify keeps an already classified error as is, otherwise tags it as transient.
func classify(msg string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrAuthentication, ErrInvalidConfiguration, ErrInvalidPath, ErrTransient, ErrNotFound} {
		if errors.Is(err, kind) {
			return fmt.Errorf("%s: %w", msg, err)
		}
	}
	return newTransientError(msg, err)
}

// credentialReasons are the 403 reasons that mean the credential itself is
// not good enough, as opposed to a per-file permission or an exhausted quota.
var credentialReasons = map[string]bool{
	"authError":               true,
	"insufficientPermissions": true,
	"accountDisabled":         true,
}

// googleError tags rejected Google credentials as ErrAuthentication: a 401, a
// 403 with a credential reason, or a failed token exchange. Other 403s
// (rate limits, quotas, single-file permissions) stay transient.
func googleError(err error) error {
	if err == nil {
		return nil
	}
	var tokenErr *oauth2.RetrieveError
	if errors.As(err, &tokenErr) {
		return newAuthError("google token", err)
	}
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return err
	}
	switch gErr.Code {
	case http.StatusUnauthorized:
		return newAuthError("google api", err)
	case http.StatusForbidden:
		for _, item := range gErr.Errors {
			if credentialReasons[item.Reason] {
				return newAuthError("google api", err)
			}
		}
		return newTransientError("google api", err)
	}
	return err
}
