package pipeline

import "net/http"

// Code is the terminal result of one admission decision. Every request that
// enters the pipeline leaves with exactly one code.
type Code string

const (
	// Success codes.
	CodeAdmitted  Code = "ADMITTED"
	CodeCreated   Code = "CREATED"
	CodeDuplicate Code = "DUPLICATE"

	// Rejection codes.
	CodeValidationError     Code = "VALIDATION_ERROR"
	CodeTokenInvalid        Code = "TOKEN_INVALID"
	CodeTokenExpired        Code = "TOKEN_EXPIRED"
	CodeIdentitySpoofed     Code = "IDENTITY_SPOOFED"
	CodePermissionDenied    Code = "PERMISSION_DENIED"
	CodeIdempotencyConflict Code = "IDEMPOTENCY_CONFLICT"
	CodeRateLimitExceeded   Code = "RATE_LIMIT_EXCEEDED"

	// CodeInternalError covers infrastructure failures (store unreachable,
	// handler panic). The pipeline fails closed: an unknown outcome is never
	// reported as success.
	CodeInternalError Code = "INTERNAL_ERROR"
)

var codeStatus = map[Code]int{
	CodeAdmitted:            http.StatusOK,
	CodeCreated:             http.StatusCreated,
	CodeDuplicate:           http.StatusOK,
	CodeValidationError:     http.StatusBadRequest,
	CodeTokenInvalid:        http.StatusUnauthorized,
	CodeTokenExpired:        http.StatusUnauthorized,
	CodeIdentitySpoofed:     http.StatusForbidden,
	CodePermissionDenied:    http.StatusForbidden,
	CodeIdempotencyConflict: http.StatusConflict,
	CodeRateLimitExceeded:   http.StatusTooManyRequests,
	CodeInternalError:       http.StatusInternalServerError,
}

// HTTPStatus maps the code to its response status. Unknown codes map to 500.
func (c Code) HTTPStatus() int {
	if s, ok := codeStatus[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Success reports whether the code represents an admitted request.
func (c Code) Success() bool {
	return c == CodeAdmitted || c == CodeCreated || c == CodeDuplicate
}
