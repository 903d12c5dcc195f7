package cmet

import "errors"

// Domain errors for the CEAZA-Met client.
var (
	// ErrMissingParam is returned before any network I/O when a required
	// query parameter is empty.
	ErrMissingParam = errors.New("missing required parameter")

	// ErrRemoteFetch covers transport failures and non-200 responses.
	ErrRemoteFetch = errors.New("remote fetch failed")

	// ErrParse is returned when a response body is not valid CSV.
	ErrParse = errors.New("malformed response")
)
