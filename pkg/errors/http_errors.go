package errors

import (
	"net/http"
)

// FromError converts a standard error to an AppError.
// If the error already is (or wraps) an AppError it is returned as-is;
// a PersistenceError keeps its status. Anything else becomes a generic 500
// so backend internals never reach the response body.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if As(err, &appErr) {
		return appErr
	}

	var perr *PersistenceError
	if As(err, &perr) {
		status := perr.StatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return NewError(status, perr.Code, perr.Error())
	}

	return NewInternalServerError(CodeInternal, "An unexpected error occurred")
}

// GetStatusCode extracts the HTTP status code from an AppError, returns 500 if not an AppError
func GetStatusCode(err error) int {
	var appErr *AppError
	if As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// GetErrorCode extracts the error code, returns "UNKNOWN_ERROR" if the error carries none
func GetErrorCode(err error) string {
	var appErr *AppError
	if As(err, &appErr) {
		return appErr.Code
	}
	var perr *PersistenceError
	if As(err, &perr) {
		return perr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetErrorMessage extracts the error message, returns original error message if not an AppError
func GetErrorMessage(err error) string {
	var appErr *AppError
	if As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
