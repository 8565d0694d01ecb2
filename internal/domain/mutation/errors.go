package mutation

import (
	"fmt"
	"net/http"
)

// Kind classifies a failed mutation.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindForbidden
	KindMisconfigured
	KindUpstream
	KindBadRequest
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindMisconfigured:
		return "misconfigured"
	case KindUpstream:
		return "upstream_failed"
	case KindBadRequest:
		return "bad_request"
	default:
		return "internal"
	}
}

// HTTPStatus is the response status for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is the single failure a mutation reports to its caller.
type Error struct {
	Kind    Kind
	Message string
	// Detail is forwarded to the caller; only upstream failures set it.
	Detail string
	// UpstreamStatus is the status the failing external service returned.
	UpstreamStatus int
	Err            error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Messages returned to callers.
const (
	MsgMisconfigured  = "Server misconfiguration: missing SUPABASE_URL or SUPABASE_SERVICE_ROLE_KEY"
	MsgMissingToken   = "Missing user token"
	MsgInvalidToken   = "Invalid user token"
	MsgUnverified     = "Unable to verify user"
	MsgAdminCheck     = "Failed to check admin table"
	MsgNotAdmin       = "Not an admin"
	MsgInvalidPayload = "Invalid payload"
	MsgUnknownFields  = "Unknown fields"
	MsgMissingID      = "Missing id"
	MsgInvalidID      = "Invalid id"
	MsgFetchFailed    = "Failed to fetch laptop"
	MsgUpsertFailed   = "Upsert failed"
	MsgDeleteFailed   = "Delete failed"
	MsgInternal       = "Internal server error"
)
