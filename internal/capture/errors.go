package capture

import "errors"

var (
	// ErrAlreadyActive is returned by Start when a recording epoch is in progress.
	ErrAlreadyActive = errors.New("capture session already active")
	// ErrNotActive is returned by Export when no recording epoch is in progress.
	ErrNotActive = errors.New("capture session not active")
	// ErrSourceUnavailable indicates the audio source could not be subscribed.
	ErrSourceUnavailable = errors.New("audio source unavailable")
	// ErrSinkUnavailable indicates the ring sink could not be opened.
	ErrSinkUnavailable = errors.New("ring sink unavailable")
	// ErrExportFailed wraps sink flush failures.
	ErrExportFailed = errors.New("audio export failed")
	// ErrInvalidConfig wraps Config.Validate failures.
	ErrInvalidConfig = errors.New("invalid capture config")
)
