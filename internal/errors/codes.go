// Package errors provides structured error handling for amanfacet.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (index engine, disk, object store)
//   - 3XX: Network errors
//   - 4XX: Validation errors (caller mistakes, never retried)
//   - 5XX: Internal errors
//   - 6XX: State errors (document or snapshot state conflicts)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates engine, disk and object store I/O errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network-related errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
	// CategoryState indicates a conflict with the current index state.
	CategoryState Category = "STATE"
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
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeCorruptIndex   = "ERR_205_CORRUPT_INDEX"
	ErrCodeFileCorrupt    = "ERR_206_FILE_CORRUPT"
	ErrCodeEngineIO       = "ERR_207_ENGINE_IO"
	ErrCodeIndexLocked    = "ERR_208_INDEX_LOCKED"
	ErrCodeObjectStore    = "ERR_209_OBJECT_STORE"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidQuery      = "ERR_403_INVALID_QUERY"
	ErrCodeInvalidFacet      = "ERR_407_INVALID_FACET"
	ErrCodeInvalidPagination = "ERR_408_INVALID_PAGINATION"
	ErrCodeMissingKey        = "ERR_409_MISSING_KEY"
	ErrCodeMapping           = "ERR_410_MAPPING"
	ErrCodeInvalidSchema     = "ERR_411_INVALID_SCHEMA"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeSearchFailed = "ERR_503_SEARCH_FAILED"
	ErrCodeIndexFailed  = "ERR_505_INDEX_FAILED"

	// State errors (600-699)
	ErrCodeNotFound      = "ERR_601_NOT_FOUND"
	ErrCodeDuplicateKey  = "ERR_602_DUPLICATE_KEY"
	ErrCodeStaleSnapshot = "ERR_603_STALE_SNAPSHOT"
	ErrCodeWriterBusy    = "ERR_604_WRITER_BUSY"
	ErrCodeClosed        = "ERR_605_CLOSED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "207" from "ERR_207_ENGINE_IO")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	case '6':
		return CategoryState
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	case ErrCodeStaleSnapshot:
		// A stale snapshot is a refresh signal, not a failure.
		return SeverityInfo
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable,
		ErrCodeEngineIO, ErrCodeObjectStore,
		ErrCodeStaleSnapshot, ErrCodeWriterBusy:
		return true
	default:
		return false
	}
}
