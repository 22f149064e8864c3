package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ccamacho/madison/internal/annotation"
	"github.com/ccamacho/madison/internal/auth"
	"github.com/ccamacho/madison/internal/export"
	"github.com/ccamacho/madison/internal/search"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func forbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	switch {
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Export format unsupported", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export renderer not installed", nil
	case errors.Is(err, search.ErrExternalStore):
		return http.StatusBadGateway, string(annotation.KindExternalStoreFailure), "Annotation store unavailable", nil
	}

	var engineErr *annotation.Error
	if errors.As(err, &engineErr) {
		switch engineErr.Kind {
		case annotation.KindInvalidRequest:
			return http.StatusBadRequest, string(engineErr.Kind), engineErr.Error(), nil
		case annotation.KindNotFound:
			return http.StatusNotFound, string(engineErr.Kind), "Not found", nil
		case annotation.KindExternalStoreFailure:
			return http.StatusBadGateway, string(engineErr.Kind), "Annotation store unavailable", nil
		case annotation.KindTransactionFailure:
			return http.StatusInternalServerError, string(engineErr.Kind), "Could not save annotation", nil
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
