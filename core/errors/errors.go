// Package errors provides the typed errors returned by the package codec.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	// ErrNotFound indicates a referenced model or container entry was not found
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates invalid input or validation failure
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnsupported indicates an unsupported package generation
	ErrUnsupported = errors.New("unsupported")
	// ErrMalformed indicates a binary descriptor that could not be decoded
	ErrMalformed = errors.New("malformed")
	// ErrVersionDetection indicates the schema version could not be read
	ErrVersionDetection = errors.New("version detection failed")
)

// UnsupportedFormatError is returned when a filename or a set of container
// entries matches none of the known package generations.
type UnsupportedFormatError struct {
	Name    string   // Filename that was looked up, if any
	Entries []string // Container entries that were inspected, if any
	Err     error    // Underlying error, if any
}

func (e *UnsupportedFormatError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("unsupported package format: %s", e.Name)
	}
	if len(e.Entries) > 0 {
		return fmt.Sprintf("unsupported package format: no collection database among %d entries", len(e.Entries))
	}
	return "unsupported package format"
}

func (e *UnsupportedFormatError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrUnsupported
}

// MalformedMetaError is returned when the meta entry is not a tag byte
// followed by a terminated varint.
type MalformedMetaError struct {
	Message string
	Err     error
}

func (e *MalformedMetaError) Error() string {
	return fmt.Sprintf("malformed meta: %s", e.Message)
}

func (e *MalformedMetaError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrMalformed
}

// VersionDetectionError is returned when neither the version pragma nor the
// version column of the collection row can be read.
type VersionDetectionError struct {
	Path string // Database path, if known
	Err  error  // Last underlying error
}

func (e *VersionDetectionError) Error() string {
	msg := "cannot detect schema version"
	if e.Path != "" {
		msg += " of " + e.Path
	}
	if e.Err != nil && e.Err != ErrVersionDetection {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *VersionDetectionError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrVersionDetection
}

// ModelNotFoundError is returned when a note references a model that was
// never added to the builder.
type ModelNotFoundError struct {
	ModelID int64
	NoteID  int64
}

func (e *ModelNotFoundError) Error() string {
	if e.NoteID != 0 {
		return fmt.Sprintf("model not found: %d (note %d)", e.ModelID, e.NoteID)
	}
	return fmt.Sprintf("model not found: %d", e.ModelID)
}

func (e *ModelNotFoundError) Unwrap() error {
	return ErrNotFound
}

// MissingEntryError is returned when a container lacks an entry that its
// generation requires.
type MissingEntryError struct {
	Entry string // Entry name, e.g. "collection.anki21b" or "meta"
	Path  string // Container path, if known
}

func (e *MissingEntryError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("missing entry %q in %s", e.Entry, e.Path)
	}
	return fmt.Sprintf("missing entry %q", e.Entry)
}

func (e *MissingEntryError) Unwrap() error {
	return ErrNotFound
}

// ValidationError represents an input validation error with context
type ValidationError struct {
	Field   string // Field name that failed validation
	Value   string // Value that failed validation (may be redacted)
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// IOError represents an I/O operation error with context
type IOError struct {
	Operation string // Operation being performed (e.g., "read", "write", "open")
	Path      string // File/resource path involved
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to %s %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Operation, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ParseError represents a database row or blob that is present but unreadable
type ParseError struct {
	Format  string // What was being parsed (e.g., "col row", "media manifest")
	Path    string // File path, if applicable
	Message string // Error details
	Err     error  // Underlying error, if any
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to parse %s at %s: %s", e.Format, e.Path, e.Message)
	}
	return fmt.Sprintf("failed to parse %s: %s", e.Format, e.Message)
}

func (e *ParseError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// Helper functions for creating common errors

// NewUnsupportedFormat creates an UnsupportedFormatError for a filename
func NewUnsupportedFormat(name string) *UnsupportedFormatError {
	return &UnsupportedFormatError{Name: name}
}

// NewMalformedMeta creates a MalformedMetaError
func NewMalformedMeta(message string) *MalformedMetaError {
	return &MalformedMetaError{Message: message}
}

// NewMissingEntry creates a MissingEntryError
func NewMissingEntry(entry, path string) *MissingEntryError {
	return &MissingEntryError{Entry: entry, Path: path}
}

// NewValidation creates a ValidationError
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewIO creates an IOError
func NewIO(operation, path string, err error) *IOError {
	return &IOError{
		Operation: operation,
		Path:      path,
		Err:       err,
	}
}

// NewParse creates a ParseError
func NewParse(format, path, message string) *ParseError {
	return &ParseError{
		Format:  format,
		Path:    path,
		Message: message,
	}
}

// Wrap adds context to an error. If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to an error. If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is wraps errors.Is for convenience
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
