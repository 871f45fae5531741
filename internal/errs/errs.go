// Package errs declares the error taxonomy shared by the DAO, the service
// layer and the HTTP boundary. Only the boundary maps these to status codes.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// MissingParameterError indicates a required query/partition field was absent.
type MissingParameterError struct {
	Parameter string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter: %s", e.Parameter)
}

// DataOverrideParameterError indicates an override-chain filter was supplied
// out of the required precedence order.
type DataOverrideParameterError struct {
	Field string
}

func (e *DataOverrideParameterError) Error() string {
	return fmt.Sprintf("override filter %q supplied without its preceding override fields", e.Field)
}

// NotFoundError indicates zero rows matched a get/update/delete.
type NotFoundError struct {
	Resource string
	Detail   string
}

func (e *NotFoundError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Detail)
}

// AfterRecordNotFoundError indicates the pagination anchor (after cursor)
// does not exist. Distinct from NotFoundError so the boundary can answer 400
// instead of 404.
type AfterRecordNotFoundError struct {
	Resource string
	After    any
}

func (e *AfterRecordNotFoundError) Error() string {
	return fmt.Sprintf("after cursor %v not found for %s", e.After, e.Resource)
}

// ConflictError indicates a duplicate PK, a violated unique group or an
// ambiguous multi-row point lookup.
type ConflictError struct {
	Detail string
}

func (e *ConflictError) Error() string { return e.Detail }

// ConfigError indicates a misconfigured spec (developer error).
type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string { return "spec config: " + e.Detail }

// ListFieldConfigError indicates a misconfigured relationship descriptor.
type ListFieldConfigError struct {
	Detail string
}

func (e *ListFieldConfigError) Error() string { return "list field config: " + e.Detail }

// PostgresFunctionError carries the message of a stored function that
// signaled a non-ok status.
type PostgresFunctionError struct {
	Function string
	Message  string
}

func (e *PostgresFunctionError) Error() string {
	return fmt.Sprintf("function %s: %s", e.Function, e.Message)
}

// StatusOf resolves the HTTP status for an error. Unknown errors are 500.
func StatusOf(err error) int {
	var (
		missing   *MissingParameterError
		override  *DataOverrideParameterError
		notFound  *NotFoundError
		afterLost *AfterRecordNotFoundError
		conflict  *ConflictError
	)
	switch {
	case errors.As(err, &missing), errors.As(err, &override), errors.As(err, &afterLost):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
