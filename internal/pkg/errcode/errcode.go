package errcode

const (
	ErrUnknown = 10000000 + iota
	ErrForbidden
	ErrNotFound
	ErrInvalid
	ErrConflict
	ErrTooMany
	ErrInternal
	ErrQueueFull
	ErrNotEmbedded
	ErrAIUnavailable
	ErrUploadFailed
)
