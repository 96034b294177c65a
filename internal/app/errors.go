package app

import (
	"errors"
	"fmt"
	"net/http"

	"portal/threads/internal/commentapi"
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var apiErr *commentapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case commentapi.KindValidation:
			return http.StatusUnprocessableEntity, codeOr(apiErr.Code, "VALIDATION_ERROR"), apiErr.Message, nil
		case commentapi.KindAuth:
			status := http.StatusForbidden
			if apiErr.Status == http.StatusUnauthorized {
				status = http.StatusUnauthorized
			}
			return status, codeOr(apiErr.Code, "FORBIDDEN"), apiErr.Message, nil
		case commentapi.KindNetwork:
			return http.StatusBadGateway, codeOr(apiErr.Code, "NETWORK_ERROR"), apiErr.Message, nil
		case commentapi.KindServer:
			return http.StatusBadGateway, codeOr(apiErr.Code, "SERVER_ERROR"), apiErr.Message, map[string]any{"upstreamStatus": apiErr.Status}
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func codeOr(code, fallback string) string {
	if code == "" {
		return fallback
	}
	return code
}
