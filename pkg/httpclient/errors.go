package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/errors"
)

// remoteError accepts both the flat {"detail","code"} shape and the nested
// {"error":{"code","message"}} shape used by common webhook receivers.
type remoteError struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e remoteError) normalized() (code, message string, ok bool) {
	switch {
	case e.Error != nil && e.Error.Message != "":
		return e.Error.Code, e.Error.Message, true
	case e.Detail != "":
		return e.Code, e.Detail, true
	default:
		return "", "", false
	}
}

// ParseResponseError reads the body of a non-2xx response and translates it
// into an error. The body is fully consumed and closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", serviceName, resp.StatusCode, err)
	}

	var remote remoteError
	if json.Unmarshal(bodyBytes, &remote) == nil {
		if code, message, ok := remote.normalized(); ok {
			return mapRemoteError(resp.StatusCode, code, message, serviceName)
		}
	}

	return fmt.Errorf("%s returned status %d: %s", serviceName, resp.StatusCode, string(bodyBytes))
}

func mapRemoteError(status int, code, message, serviceName string) error {
	qualified := fmt.Sprintf("%s: %s", serviceName, message)

	switch {
	case status == http.StatusNotFound:
		return apperrors.NotFound(serviceName, message)
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return apperrors.InvalidInput(qualified)
	case status == http.StatusUnauthorized:
		return apperrors.Unauthorized(qualified)
	case status == http.StatusForbidden:
		return apperrors.Forbidden(qualified)
	case status >= 500:
		return fmt.Errorf("%s server error (%d/%s): %s", serviceName, status, code, message)
	default:
		return &apperrors.AppError{Code: code, Message: qualified, Status: status}
	}
}
