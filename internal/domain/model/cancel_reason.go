package model

import (
	"errors"
	"strings"
)

type CancelReasonCode string

const (
	CancelReasonUserRequested  CancelReasonCode = "USER_REQUESTED"
	CancelReasonAdminCancelled CancelReasonCode = "ADMIN_CANCELLED"
	CancelReasonPaymentFailed  CancelReasonCode = "PAYMENT_FAILED"
	CancelReasonExpired        CancelReasonCode = "RESERVATION_EXPIRED"
	CancelReasonOther          CancelReasonCode = "OTHER"
)

var ErrInvalidCancelReason = errors.New("invalid cancel reason")

// キャンセル理由。OTHER のときだけ Detail 必須。
type CancelReason struct {
	Code   CancelReasonCode
	Detail string
}

func NewCancelReason(code string, detail string) (CancelReason, error) {
	r := CancelReason{
		Code:   CancelReasonCode(strings.ToUpper(strings.TrimSpace(code))),
		Detail: strings.TrimSpace(detail),
	}
	if r.Code == "" {
		r.Code = CancelReasonUserRequested
	}
	if err := r.Validate(); err != nil {
		return CancelReason{}, err
	}
	return r, nil
}

func (r CancelReason) Validate() error {
	switch r.Code {
	case CancelReasonUserRequested, CancelReasonAdminCancelled, CancelReasonPaymentFailed, CancelReasonExpired:
	case CancelReasonOther:
		if r.Detail == "" {
			return ErrInvalidCancelReason
		}
	default:
		return ErrInvalidCancelReason
	}
	if len(r.Detail) > 1000 {
		return ErrInvalidCancelReason
	}
	return nil
}
