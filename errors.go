package sedonadb

import (
	"errors"
	"fmt"
	"strings"
)

func getError(errKind error, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", sedonaErrMsg, errKind)
	}
	return fmt.Errorf("%s: %w: %s", sedonaErrMsg, errKind, err.Error())
}

// isEngineError reports whether err already carries the engine prefix, so that
// errors crossing operator boundaries are not wrapped twice.
func isEngineError(err error) bool {
	for _, kind := range errorKinds {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// wrapError wraps err into errKind unless it already is an engine error.
func wrapError(errKind error, err error) error {
	if err == nil {
		return nil
	}
	if isEngineError(err) {
		return err
	}
	return getError(errKind, err)
}

func castError(actual string, expected string) error {
	return fmt.Errorf("%s: cannot cast %s to %s", castErrMsg, actual, expected)
}

func columnError(err error, colIdx int) error {
	return fmt.Errorf("%w: %s: %d", err, columnErrMsg, colIdx)
}

func unsupportedTypeError(name string) error {
	return fmt.Errorf("%s: %s", unsupportedTypeErrMsg, name)
}

func addIndexToError(err error, idx int) error {
	return fmt.Errorf("%w: %s: %d", err, indexErrMsg, idx)
}

func interfaceIsNilError(interfaceName string) error {
	return fmt.Errorf("%s: %s", interfaceIsNilErrMsg, interfaceName)
}

func unknownColumnError(name string, candidates []string) error {
	return fmt.Errorf("%s: %q, valid columns: [%s]", unknownColumnErrMsg, name, strings.Join(candidates, ", "))
}

func ambiguousColumnError(name string, candidates []string) error {
	return fmt.Errorf("%s: %q matches [%s]", ambiguousColumnErrMsg, name, strings.Join(candidates, ", "))
}

func unknownFunctionError(name string) error {
	return fmt.Errorf("%s: %s", unknownFunctionErrMsg, name)
}

func arityError(name string, expected string, actual int) error {
	return fmt.Errorf("%s: %s expects %s argument(s), got %d", arityErrMsg, name, expected, actual)
}

func typeMismatchError(context string, expected string, actual string) error {
	return fmt.Errorf("%s: %s: expected %s, got %s", typeMismatchErrMsg, context, expected, actual)
}

func schemaMismatchError(expected string, actual string) error {
	return fmt.Errorf("expected schema %s, got %s", expected, actual)
}

func nameConflictError(kind string, name string) error {
	return fmt.Errorf("%s %q already exists", kind, name)
}

func notFoundError(kind string, name string) error {
	return fmt.Errorf("%s %q does not exist", kind, name)
}

const (
	sedonaErrMsg          = "sedonadb"
	castErrMsg            = "cast error"
	columnErrMsg          = "column index"
	indexErrMsg           = "index"
	unsupportedTypeErrMsg = "unsupported data type"
	interfaceIsNilErrMsg  = "interface is nil"
	unknownColumnErrMsg   = "unknown column"
	ambiguousColumnErrMsg = "ambiguous column reference"
	unknownFunctionErrMsg = "unknown function"
	arityErrMsg           = "wrong number of arguments"
	typeMismatchErrMsg    = "type mismatch"
)

// The error taxonomy. Every fallible operation returns an error wrapping
// exactly one of these, so callers can match with errors.Is.
var (
	// ErrParse reports malformed SQL.
	ErrParse = errors.New("parse error")
	// ErrBinding reports unknown tables, columns or functions, and arity or type mismatches.
	ErrBinding = errors.New("binding error")
	// ErrSchemaMismatch reports runtime data that disagrees with its declared schema.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrNameConflict reports a duplicate registration without overwrite.
	ErrNameConflict = errors.New("name conflict")
	// ErrNotFound reports a deregistration or lookup miss.
	ErrNotFound = errors.New("not found")
	// ErrExecution reports I/O failures, UDF failures, numeric overflow and cancellation.
	ErrExecution = errors.New("execution error")
	// ErrUnsupported reports a feature that is not implemented for a type or format.
	ErrUnsupported = errors.New("unsupported operation")
	// ErrInvalidConfig reports an unknown or malformed configuration option.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrClosed reports use of a closed Context.
	ErrClosed = errors.New("context closed")
)

var errorKinds = []error{
	ErrParse, ErrBinding, ErrSchemaMismatch, ErrNameConflict, ErrNotFound,
	ErrExecution, ErrUnsupported, ErrInvalidConfig, ErrClosed,
}

var (
	errEmptyName          = errors.New("empty name")
	errNilProvider        = errors.New("table provider is nil")
	errStreamConsumed     = errors.New("record stream can only be scanned once")
	errScalarUDFNoName    = errors.New("function name is empty")
	errScalarUDFIsNil     = errors.New("function is nil")
	errUDFNilInputTypes   = errors.New("input type infos are nil")
	errUDFInputTypeIsNil  = errors.New("input type info is nil")
	errUDFResultTypeIsNil = errors.New("result type info is nil")
	errParseDSN           = errors.New("could not parse DSN")
	errNegativeLimit      = errors.New("limit must not be negative")
	errIntegerOverflow    = errors.New("integer overflow")
	errEmptyPaths         = errors.New("no input paths given")
	errProfilingInfoEmpty = errors.New("no profiling information available")
)
