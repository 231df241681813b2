package triage

import "errors"

// ErrQuotaExceeded indicates the advice provider returned a quota/limit error (HTTP 429 or similar).
var ErrQuotaExceeded = errors.New("triage quota exceeded")

// ErrProviderFailure indicates the advice provider errored for any
// reason other than quota.
var ErrProviderFailure = errors.New("advice provider failure")

// ErrAdviceNotFound indicates no stored advice exists for the finding.
var ErrAdviceNotFound = errors.New("advice not found")
