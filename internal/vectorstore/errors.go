package vectorstore

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/toolgate/internal/apperr"
)

// ConfigurationError means an adapter cannot be constructed as configured.
type ConfigurationError struct {
	Driver Driver
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("vectorstore %s: configuration: %s", e.Driver, e.Reason)
}

func (e *ConfigurationError) ErrorCode() apperr.Code { return apperr.CodeConfiguration }

// ConnectivityError means the backend could not be reached.
type ConnectivityError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("vectorstore %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

func (e *ConnectivityError) ErrorCode() apperr.Code { return apperr.CodeConnectivity }

// TimeoutError means a backend call exceeded its deadline.
type TimeoutError struct {
	Op      string
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("vectorstore %s %s: timed out after %s", e.Op, e.URL, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) ErrorCode() apperr.Code { return apperr.CodeTimeout }

// HTTPStatusError is a non-2xx response from the REST backend.
type HTTPStatusError struct {
	Op         string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("vectorstore %s %s: status %d: %s", e.Op, e.URL, e.StatusCode, e.Body)
}

func (e *HTTPStatusError) ErrorCode() apperr.Code { return apperr.CodeConnectivity }
