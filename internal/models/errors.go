package models

import "errors"

var (
	ErrShuttingDown        = errors.New("scheduler is shutting down")
	ErrBatchTimeout        = errors.New("batch processing timed out")
	ErrInvalidRequest      = errors.New("invalid inference request")
	ErrResultCountMismatch = errors.New("backend returned wrong number of results")
	ErrBackendUnavailable  = errors.New("inference backend unavailable")
	ErrBatchTooLarge       = errors.New("batch exceeds backend token budget")
)
