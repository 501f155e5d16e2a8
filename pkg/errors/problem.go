package errors

import (
	"net/http"
)

// Problem type URIs
const (
	TypeInputError     = "https://walletsend.dev/problems/input"
	TypeStaleError     = "https://walletsend.dev/problems/stale"
	TypeNetworkError   = "https://walletsend.dev/problems/network"
	TypeProtocolError  = "https://walletsend.dev/problems/protocol"
	TypeNotFound       = "https://walletsend.dev/problems/not-found"
	TypeConflict       = "https://walletsend.dev/problems/conflict"
	TypeInternalError  = "https://walletsend.dev/problems/internal-error"
	TitleNotFound      = "Not Found"
	TitleInternalError = "Internal Server Error"
)

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string       `json:"type"`
	Title    string       `json:"title"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	Errors   []FieldError `json:"errors,omitempty"`
}

// Error implements the error interface
func (p *ProblemDetails) Error() string {
	return p.Detail
}

// NewNotFoundError creates a not found error problem
func NewNotFoundError(detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     TypeNotFound,
		Title:    TitleNotFound,
		Status:   http.StatusNotFound,
		Detail:   detail,
		Instance: instance,
	}
}

// ProblemFromError maps a pipeline error onto problem details by category
func ProblemFromError(err error, instance string) *ProblemDetails {
	var e *Error
	if !As(err, &e) {
		return &ProblemDetails{
			Type:     TypeInternalError,
			Title:    TitleInternalError,
			Status:   http.StatusInternalServerError,
			Detail:   err.Error(),
			Instance: instance,
		}
	}

	p := &ProblemDetails{
		Title:    e.Kind,
		Detail:   e.Error(),
		Instance: instance,
		Errors:   e.Fields,
	}
	switch e.Category {
	case CategoryInput:
		p.Type, p.Status = TypeInputError, http.StatusUnprocessableEntity
	case CategoryStaleness:
		p.Type, p.Status = TypeStaleError, http.StatusConflict
	case CategoryNetwork:
		p.Type, p.Status = TypeNetworkError, http.StatusBadGateway
	case CategoryProtocol:
		p.Type, p.Status = TypeProtocolError, http.StatusBadRequest
	case CategoryTerminal:
		p.Type, p.Status = TypeConflict, http.StatusConflict
	default:
		p.Type, p.Status = TypeInternalError, http.StatusInternalServerError
	}
	return p
}
