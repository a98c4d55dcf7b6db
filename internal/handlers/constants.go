package handlers

const (
	ErrInvalidRequest      = "Invalid request"
	ErrUnauthorized        = "Unauthorized"
	ErrForbidden           = "Forbidden"
	ErrNotFound            = "Not found"
	ErrTooManyRequests     = "Too many requests"
	ErrMailNotSent         = "Cound not send mail"
	ErrInternalServerError = "Internal server error"

	maxBodyBytes = 1 << 20
)
