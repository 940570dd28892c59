// Package fault defines the closed error taxonomy shared by the tool-call
// and HTTP surfaces. Every failure that reaches a caller is a *Error carrying
// a Code from this package; anything else is coerced to UNEXPECTED_ERROR.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies one failure class. The set is closed: handlers must not
// invent ad-hoc codes.
type Code string

const (
	AuthRequired        Code = "AUTH_REQUIRED"
	AuthFailed          Code = "AUTH_FAILED"
	UnknownTool         Code = "UNKNOWN_TOOL"
	InvalidArguments    Code = "INVALID_ARGUMENTS"
	InvalidOperation    Code = "INVALID_OPERATION"
	TemplateNotFound    Code = "TEMPLATE_NOT_FOUND"
	FragmentNotFound    Code = "FRAGMENT_NOT_FOUND"
	SessionNotFound     Code = "SESSION_NOT_FOUND"
	SessionNotReady     Code = "SESSION_NOT_READY"
	RenderFailed        Code = "RENDER_FAILED"
	InvalidImageURL     Code = "INVALID_IMAGE_URL"
	ImageNotAccessible  Code = "IMAGE_URL_NOT_ACCESSIBLE"
	InvalidImageType    Code = "INVALID_IMAGE_CONTENT_TYPE"
	ImageTooLarge       Code = "IMAGE_TOO_LARGE"
	ImageURLTimeout     Code = "IMAGE_URL_TIMEOUT"
	ImageValidation     Code = "IMAGE_VALIDATION_ERROR"
	InvalidGraphParams  Code = "INVALID_GRAPH_PARAMS"
	GraphValidation     Code = "GRAPH_VALIDATION_ERROR"
	RenderError         Code = "RENDER_ERROR"
	PlotStorageMissing  Code = "PLOT_STORAGE_NOT_INITIALIZED"
	ImageNotFound       Code = "IMAGE_NOT_FOUND"
	AccessDenied        Code = "ACCESS_DENIED"
	InvalidNumberFormat Code = "INVALID_NUMBER_FORMAT"
	InvalidColor        Code = "INVALID_COLOR"
	InvalidTableData    Code = "INVALID_TABLE_DATA"
	InconsistentColumns Code = "INCONSISTENT_COLUMNS"
	InvalidHighlight    Code = "INVALID_HIGHLIGHT"
	InvalidSort         Code = "INVALID_SORT"
	InvalidColumnWidth  Code = "INVALID_COLUMN_WIDTH"
	InvalidWidth        Code = "INVALID_WIDTH"
	InvalidAlignment    Code = "INVALID_ALIGNMENT"
	InvalidBorderStyle  Code = "INVALID_BORDER_STYLE"
	Unexpected          Code = "UNEXPECTED_ERROR"
)

// Error is the one error shape surfaced to callers. The wrapped cause is for
// logs only and is never serialised into a response.
type Error struct {
	Code     Code
	Message  string
	Recovery string
	Details  map[string]any

	cause error
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Recovery: defaultRecovery[code]}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a cause to a new Error. The cause participates in
// errors.Is/As chains but stays out of the serialised envelope.
func Wrap(err error, code Code, message string) *Error {
	e := New(code, message)
	e.cause = err
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.cause.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// WithRecovery overrides the default recovery hint for this error.
func (e *Error) WithRecovery(hint string) *Error {
	e.Recovery = hint
	return e
}

// WithDetail adds one structured detail, allocating the map on first use.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// From coerces any error to a *Error. A *Error anywhere in the chain is
// returned as-is; everything else becomes UNEXPECTED_ERROR with the dynamic
// type name recorded in details.
func From(err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return Wrap(err, Unexpected, "an unexpected error occurred").
		WithDetail("type", fmt.Sprintf("%T", err))
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code Code) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Code == code
}

var defaultRecovery = map[Code]string{
	AuthRequired:        "supply credentials via auth_token or an Authorization bearer header and retry",
	AuthFailed:          "check the token and retry",
	UnknownTool:         "call list_handlers for the supported tool set",
	InvalidArguments:    "fix the listed arguments and retry",
	InvalidOperation:    "adjust the request and retry",
	TemplateNotFound:    "call list_templates for the available template ids",
	FragmentNotFound:    "call list_template_fragments for the available fragment ids",
	SessionNotFound:     "create a new session with create_document_session",
	SessionNotReady:     "call set_global_parameters before rendering",
	RenderFailed:        "check the session contents and style id, then retry",
	InvalidImageURL:     "provide an absolute https image url",
	ImageNotAccessible:  "verify the url is reachable and returns status 200",
	InvalidImageType:    "link an image served with a supported image content-type",
	ImageTooLarge:       "provide an image within the configured size limit",
	ImageURLTimeout:     "retry later or host the image on a faster server",
	ImageValidation:     "retry; if the problem persists check the image host",
	InvalidGraphParams:  "fix the graph arguments and retry",
	GraphValidation:     "fix the series data and retry",
	RenderError:         "simplify the graph and retry",
	PlotStorageMissing:  "configure plot storage before saving images",
	ImageNotFound:       "call list_images for the stored image ids",
	AccessDenied:        "request the artefact with credentials for its owning group",
	InvalidNumberFormat: "use currency:<ISO-4217>, percent, decimal:<n>, integer or accounting",
	InvalidColor:        "use a theme color name or a #RGB/#RRGGBB hex literal",
	InvalidTableData:    "fix the table rows and retry",
	InconsistentColumns: "make every row the same length",
	InvalidHighlight:    "fix the highlight entries and retry",
	InvalidSort:         "reference an existing column in sort_by",
	InvalidColumnWidth:  "use percentage strings summing to at most 100",
	InvalidWidth:        "use auto, full or a 1-100 percentage",
	InvalidAlignment:    "use left, center or right per column",
	InvalidBorderStyle:  "use full, horizontal, minimal or none",
	Unexpected:          "retry; contact the operator if the problem persists",
}

// HTTPStatus maps a taxonomy code to the status used by the HTTP surface.
func HTTPStatus(code Code) int {
	switch code {
	case AuthRequired, AuthFailed:
		return http.StatusUnauthorized
	case AccessDenied:
		return http.StatusForbidden
	case TemplateNotFound, FragmentNotFound, SessionNotFound, ImageNotFound, UnknownTool:
		return http.StatusNotFound
	case Unexpected, RenderFailed, RenderError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
