package media

import "errors"

var (
	// ErrDecode indicates a corrupt or unsupported inline payload.
	ErrDecode = errors.New("media payload corrupt or unsupported")
	// ErrProviderUnavailable indicates the storage provider is not configured or reachable.
	ErrProviderUnavailable = errors.New("storage provider unavailable")
	// ErrUpload indicates a transient storage write failure; the source row
	// is left untouched for a future retry pass.
	ErrUpload = errors.New("storage upload failed")
)
