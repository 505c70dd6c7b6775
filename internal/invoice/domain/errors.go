package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidInvoiceID = errors.New("invalid_invoice_id")
	ErrInvalidClientID  = errors.New("invalid_client_id")
	ErrInvalidStatus    = errors.New("invalid_status")
	ErrInvalidTaxRate   = errors.New("invalid_tax_rate")
	ErrInvalidMode      = errors.New("invalid_render_mode")

	ErrInvoiceNotFound = errors.New("invoice_not_found")
	ErrClientNotFound  = errors.New("client_not_found")
	ErrProductNotFound = errors.New("product_not_found")

	ErrMailNotConfigured = errors.New("mail_not_configured")
	ErrFontUnavailable   = errors.New("render.font_unavailable")
	ErrRenderFailed      = errors.New("render_failed")

	ErrTransient = errors.New("transient")

	ErrNumberConflict     = errors.New("number_conflict")
	ErrDispatchInProgress = errors.New("dispatch_in_progress")

	ErrIllegalTransition    = errors.New("illegal_transition")
	ErrSentRequiresDispatch = errors.New("sent_requires_dispatch")
	ErrNotEditable          = errors.New("invoice_not_editable")

	ErrNoRecipient         = errors.New("no_recipient")
	ErrNoAcceptedRecipient = errors.New("no_accepted_recipient")
	ErrRecipientsRejected  = errors.New("recipients_rejected")
	ErrMessageRejected     = errors.New("message_rejected")
)

// ValidationError names the offending line and field. Index is -1 for header fields.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("lines[%d].%s: %s", e.Index, e.Field, e.Reason)
}

type FloorOffender struct {
	Index     int             `json:"index"`
	ProductID snowflake.ID    `json:"product_id"`
	Name      string          `json:"name"`
	Submitted decimal.Decimal `json:"submitted"`
	Floor     decimal.Decimal `json:"floor"`
}

// FloorViolation rejects a whole line batch priced below the catalog.
type FloorViolation struct {
	Offenders []FloorOffender
}

func (e *FloorViolation) Error() string {
	parts := make([]string, 0, len(e.Offenders))
	for _, o := range e.Offenders {
		parts = append(parts, fmt.Sprintf("%s (%s): %s below floor %s",
			o.Name, o.ProductID, o.Submitted.StringFixed(2), o.Floor.StringFixed(2)))
	}
	return "price below catalog floor: " + strings.Join(parts, "; ")
}

type DispatchStage string

const (
	StageLoad    DispatchStage = "load"
	StageVerify  DispatchStage = "verify"
	StageRender  DispatchStage = "render"
	StageSend    DispatchStage = "send"
	StagePersist DispatchStage = "persist"
)

type ErrorKind string

const (
	KindNotFound      ErrorKind = "not_found"
	KindValidation    ErrorKind = "validation"
	KindConfiguration ErrorKind = "configuration"
	KindTransient     ErrorKind = "transient"
	KindRejected      ErrorKind = "rejected"
	KindConflict      ErrorKind = "conflict"
	KindInternal      ErrorKind = "internal"
)

// DispatchError annotates a failed send with the step that failed.
type DispatchError struct {
	Stage DispatchStage
	Kind  ErrorKind
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Retryable reports whether a manual retry of the send can succeed without a config change.
func (e *DispatchError) Retryable() bool {
	switch e.Kind {
	case KindTransient, KindConflict:
		return true
	case KindInternal:
		return e.Stage == StagePersist
	default:
		return false
	}
}
