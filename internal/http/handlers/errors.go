package handlers

// Stable error codes carried in ErrorResponse.Code. Clients branch on these,
// never on Message.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeConflict         = "conflict"
	ErrCodeInternal         = "internal_error"

	// admin panel
	ErrCodeStatsFailed = "stats_failed"
	ErrCodeListFailed  = "list_failed"
	ErrCodeQueueFull   = "queue_full"
)
