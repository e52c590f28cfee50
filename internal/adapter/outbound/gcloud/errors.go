// Package gcloud implements the outbound cloud ports against the Google
// Cloud Identity and Resource Manager APIs.
package gcloud

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"

	"github.com/groupgate/groupgate/internal/errdefs"
)

// translateError maps a Google API error onto the broker's error kinds.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", errdefs.ErrResourceNotFound, err)
		case http.StatusForbidden, http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", errdefs.ErrAccessDenied, err)
		case http.StatusConflict:
			return fmt.Errorf("%w: %v", errdefs.ErrAlreadyExists, err)
		}
	}
	return fmt.Errorf("%w: %v", errdefs.ErrIO, err)
}

// isConflict reports whether err is an optimistic-concurrency conflict from
// a SetIamPolicy call with a stale etag.
func isConflict(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) &&
		(apiErr.Code == http.StatusConflict || apiErr.Code == http.StatusPreconditionFailed)
}
