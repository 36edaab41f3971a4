package pipeline

// ValidationError reports bad options, detected before any network call.
type ValidationError struct {
	Msg string
	Err error
}

func (e *ValidationError) Error() string {
	if e.Err != nil && e.Msg == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// CredentialError reports that no usable X session could be found.
type CredentialError struct {
	Msg string
	Err error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *CredentialError) Unwrap() error { return e.Err }

// UpstreamFetchError reports that the bookmark list could not be retrieved.
type UpstreamFetchError struct {
	Err error
}

func (e *UpstreamFetchError) Error() string {
	return "Failed to fetch bookmarks: " + e.Err.Error()
}

func (e *UpstreamFetchError) Unwrap() error { return e.Err }
