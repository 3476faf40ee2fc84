package contract

import "errors"

var (
	ErrModelInvoke       = errors.New("model invoke failed")
	ErrToolInvoke        = errors.New("tool invoke failed")
	ErrSchemaViolation   = errors.New("model response violates schema")
	ErrPromptMissing     = errors.New("required prompt is missing")
	ErrValidation        = errors.New("validation failed")
	ErrToolDepthExceeded = errors.New("tool call depth exceeded")
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrRetrieval         = errors.New("context retrieval failed")
)
