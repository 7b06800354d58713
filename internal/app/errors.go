package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/scottring/ParentPulse-sub002/internal/archive"
	"github.com/scottring/ParentPulse-sub002/internal/domain"
	"github.com/scottring/ParentPulse-sub002/internal/export"
	"github.com/scottring/ParentPulse-sub002/internal/gitrepo"
)

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		return domainErr.Status(), domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, gitrepo.ErrNoHistory), errors.Is(err, gitrepo.ErrUnknownRevision):
		return http.StatusNotFound, "REVISION_NOT_FOUND", "Revision not found", nil
	case errors.Is(err, archive.ErrNotArchived):
		return http.StatusNotFound, "NOT_ARCHIVED", "Workbook not archived", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export is not available", nil
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", "Request timed out", nil
	case errors.Is(err, context.Canceled):
		return 499, "CANCELED", "Request canceled", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
