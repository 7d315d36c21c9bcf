package domain

import "slices"

// Severity distinguishes blocking errors from advisory warnings.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ParserUsed names the tier that produced a lead.
type ParserUsed string

const (
	ParserStrict   ParserUsed = "strict"
	ParserFallback ParserUsed = "fallback"
)

// Warning and failure codes.
const (
	CodeFallbackParsingUsed  = "FALLBACK_PARSING_USED"
	CodeExternalIDDerived    = "EXTERNAL_ID_DERIVED"
	CodeUnparsableDocument   = "UNPARSABLE_DOCUMENT"
	CodeMinimalFieldsMissing = "MINIMAL_FIELDS_MISSING"
	CodeSchemaValidation     = "SCHEMA_VALIDATION"
)

// ValidationError describes one problem found in a document.
type ValidationError struct {
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code,omitempty"`
}

// Warning is a non-blocking ValidationError.
type Warning = ValidationError

// NewWarning builds a warning with a code.
func NewWarning(code, field, message string) Warning {
	return ValidationError{Field: field, Message: message, Severity: SeverityWarning, Code: code}
}

// NewError builds an error-severity ValidationError.
func NewError(field, message string) ValidationError {
	return ValidationError{Field: field, Message: message, Severity: SeverityError}
}

// ParseResult is either a success carrying a lead or a failure carrying errors.
// It is built once by Succeed or Fail and exposes copies only.
type ParseResult struct {
	ok                bool
	lead              ParsedLead
	warnings          []Warning
	parserUsed        ParserUsed
	errors            []ValidationError
	attemptedFallback bool
	code              string
}

// Succeed builds a success result.
func Succeed(lead ParsedLead, parser ParserUsed, warnings ...Warning) ParseResult {
	return ParseResult{
		ok:         true,
		lead:       copyLead(lead),
		warnings:   slices.Clone(warnings),
		parserUsed: parser,
	}
}

// Fail builds a failure result. code identifies the failure class for triage.
func Fail(code string, attemptedFallback bool, errs ...ValidationError) ParseResult {
	return ParseResult{
		errors:            slices.Clone(errs),
		attemptedFallback: attemptedFallback,
		code:              code,
	}
}

// OK reports whether the result is a success.
func (r ParseResult) OK() bool { return r.ok }

// Lead returns the parsed lead; ok is false for failures.
func (r ParseResult) Lead() (ParsedLead, bool) {
	if !r.ok {
		return ParsedLead{}, false
	}
	return copyLead(r.lead), true
}

// ParserUsed returns the tier that produced the lead, or "" for failures.
func (r ParseResult) ParserUsed() ParserUsed { return r.parserUsed }

// Warnings returns a copy of the success warnings.
func (r ParseResult) Warnings() []Warning { return slices.Clone(r.warnings) }

// Errors returns a copy of the failure errors.
func (r ParseResult) Errors() []ValidationError { return slices.Clone(r.errors) }

// AttemptedFallback reports whether the lenient parser ran before failing.
func (r ParseResult) AttemptedFallback() bool { return r.attemptedFallback }

// Code returns the failure code, or "" for successes.
func (r ParseResult) Code() string { return r.code }

// HasWarning reports whether a warning with code is present.
func (r ParseResult) HasWarning(code string) bool {
	return slices.ContainsFunc(r.warnings, func(w Warning) bool { return w.Code == code })
}

// Err maps a failure to its sentinel error, or nil for successes.
func (r ParseResult) Err() error {
	if r.ok {
		return nil
	}
	switch r.code {
	case CodeUnparsableDocument:
		return ErrUnparsableDocument
	case CodeMinimalFieldsMissing:
		return ErrMinimalFieldsMissing
	default:
		return ErrSchemaValidation
	}
}

func copyLead(l ParsedLead) ParsedLead {
	if l.VehicleInterest != nil {
		v := *l.VehicleInterest
		l.VehicleInterest = &v
	}
	return l
}
