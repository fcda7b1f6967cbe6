// Package errors provides structured error handling for DocQuery.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage and index errors
//   - 3XX: External dependency errors (embedding, LLM)
//   - 4XX: Validation errors
//   - 5XX: Pipeline and internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates store and index I/O errors.
	CategoryStorage Category = "STORAGE"
	// CategoryDependency indicates external provider errors.
	CategoryDependency Category = "DEPENDENCY"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage and index errors (200-299)
	ErrCodeStoreUnavailable = "ERR_201_STORE_UNAVAILABLE"
	ErrCodeNotFound         = "ERR_202_NOT_FOUND"
	ErrCodeIndexMissing     = "ERR_203_INDEX_MISSING"
	ErrCodeIndexCorrupt     = "ERR_204_INDEX_CORRUPT"
	ErrCodeFileTooLarge     = "ERR_205_FILE_TOO_LARGE"

	// Dependency errors (300-399)
	ErrCodeEmbeddingUnavailable = "ERR_301_EMBEDDING_UNAVAILABLE"
	ErrCodeLLMUnavailable       = "ERR_302_LLM_UNAVAILABLE"
	ErrCodeSearchUnavailable    = "ERR_303_SEARCH_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeUnsupportedMedia  = "ERR_402_UNSUPPORTED_MEDIA"
	ErrCodeDimensionMismatch = "ERR_403_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeQueryTooLong      = "ERR_405_QUERY_TOO_LONG"

	// Pipeline and internal errors (500-599)
	ErrCodeInternal         = "ERR_501_INTERNAL"
	ErrCodeExtractionFailed = "ERR_502_EXTRACTION_FAILED"
	ErrCodeExtractionEmpty  = "ERR_503_EXTRACTION_EMPTY"
	ErrCodeChunkingFailed   = "ERR_504_CHUNKING_FAILED"
	ErrCodeIngestionFailed  = "ERR_505_INGESTION_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "101" from "ERR_101_CONFIG_NOT_FOUND".
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryDependency
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeIndexCorrupt, ErrCodeDimensionMismatch:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEmbeddingUnavailable, ErrCodeLLMUnavailable, ErrCodeStoreUnavailable:
		return true
	default:
		return false
	}
}
