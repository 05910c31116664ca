package domain

import (
	"errors"
	"fmt"
)

// Category sentinels, combined with a subsystem through NewSubSystemError.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrInvalidInput = fmt.Errorf("invalid input")
)

// Invariant violations. A run that hits one of these reached a state the
// negotiation model does not cover and must abort.
var (
	ErrFormationMerge      = fmt.Errorf("merging two formations is not supported")
	ErrDoubleAcceptance    = fmt.Errorf("bid accepted by more than one manager")
	ErrNegativeFuel        = fmt.Errorf("fuel cost lower than zero")
	ErrAsymmetricFormation = fmt.Errorf("formation mates are not symmetric")
	ErrIllegalTransition   = fmt.Errorf("illegal formation state transition")
)

// Unsupported inputs. These fail fast but are not caused by the model drifting.
var (
	ErrSelfMerge       = fmt.Errorf("agent cannot merge with itself")
	ErrSelfBid         = fmt.Errorf("agent cannot bid to itself")
	ErrFormationBusy   = fmt.Errorf("formation is still joining up")
	ErrAlreadyInFleet  = fmt.Errorf("flight already registered")
	ErrFlightNotFound  = fmt.Errorf("flight not found")
	ErrUnknownMethod   = fmt.Errorf("unknown negotiation method")
	ErrUnknownBehavior = fmt.Errorf("unknown behavior profile")
	ErrNoDestination   = fmt.Errorf("no open destination airport")
	ErrRunNotFound     = fmt.Errorf("run not found")
	ErrConfigLoad      = fmt.Errorf("failed to load configuration")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Ledger.StartFormation")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "ledger", "cnp"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsInvariantViolation reports whether err means the run reached an
// unmodeled state and has to be aborted.
func IsInvariantViolation(err error) bool {
	for _, sentinel := range invariantSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

var invariantSentinels = []error{
	ErrFormationMerge,
	ErrDoubleAcceptance,
	ErrNegativeFuel,
	ErrAsymmetricFormation,
	ErrIllegalTransition,
}

// ErrorCode is a machine-parseable error category for logs and stored runs.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeDuplicate          ErrorCode = "DUPLICATE"
	CodeInvalidInput       ErrorCode = "INVALID_INPUT"
	CodeFormationMerge     ErrorCode = "FORMATION_MERGE"
	CodeDoubleAcceptance   ErrorCode = "DOUBLE_ACCEPTANCE"
	CodeNegativeFuel       ErrorCode = "NEGATIVE_FUEL"
	CodeAsymmetric         ErrorCode = "ASYMMETRIC_FORMATION"
	CodeIllegalTransition  ErrorCode = "ILLEGAL_TRANSITION"
	CodeSelfMerge          ErrorCode = "SELF_MERGE"
	CodeSelfBid            ErrorCode = "SELF_BID"
	CodeFormationBusy      ErrorCode = "FORMATION_BUSY"
	CodeAlreadyInFleet     ErrorCode = "ALREADY_IN_FLEET"
	CodeFlightNotFound     ErrorCode = "FLIGHT_NOT_FOUND"
	CodeUnknownMethod      ErrorCode = "UNKNOWN_METHOD"
	CodeUnknownBehavior    ErrorCode = "UNKNOWN_BEHAVIOR"
	CodeNoDestination      ErrorCode = "NO_DESTINATION"
	CodeRunNotFound        ErrorCode = "RUN_NOT_FOUND"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeAirportNotFound    ErrorCode = "AIRPORT_NOT_FOUND"
	CodeFlightDuplicate    ErrorCode = "FLIGHT_DUPLICATE"
	CodeInvalidBid         ErrorCode = "INVALID_BID"
	CodeInvalidFlightSetup ErrorCode = "INVALID_FLIGHT"
)

// errorCodeMap maps each sentinel to its ErrorCode.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:            CodeNotFound,
	ErrDuplicate:           CodeDuplicate,
	ErrInvalidInput:        CodeInvalidInput,
	ErrFormationMerge:      CodeFormationMerge,
	ErrDoubleAcceptance:    CodeDoubleAcceptance,
	ErrNegativeFuel:        CodeNegativeFuel,
	ErrAsymmetricFormation: CodeAsymmetric,
	ErrIllegalTransition:   CodeIllegalTransition,
	ErrSelfMerge:           CodeSelfMerge,
	ErrSelfBid:             CodeSelfBid,
	ErrFormationBusy:       CodeFormationBusy,
	ErrAlreadyInFleet:      CodeAlreadyInFleet,
	ErrFlightNotFound:      CodeFlightNotFound,
	ErrUnknownMethod:       CodeUnknownMethod,
	ErrUnknownBehavior:     CodeUnknownBehavior,
	ErrNoDestination:       CodeNoDestination,
	ErrRunNotFound:         CodeRunNotFound,
	ErrConfigLoad:          CodeConfigLoad,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"airport": CodeAirportNotFound,
		"flight":  CodeFlightNotFound,
		"run":     CodeRunNotFound,
	},
	ErrDuplicate: {
		"flight": CodeFlightDuplicate,
	},
	ErrInvalidInput: {
		"bid":    CodeInvalidBid,
		"flight": CodeInvalidFlightSetup,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
