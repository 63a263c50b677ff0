package service

import (
	"errors"

	"github.com/punchamoorthee/stkledger/internal/daraja"
	"github.com/punchamoorthee/stkledger/internal/store"
)

var (
	ErrInvalidAmount     = errors.New("amount must be a positive number")
	ErrMissingPhone      = errors.New("phone number is required")
	ErrInvalidPhone      = errors.New("invalid phone number format, use a valid Kenyan phone number")
	ErrConfiguration     = errors.New("payment configuration incomplete")
	ErrMalformedCallback = errors.New("callback carries no stkCallback result")
	ErrInvalidCallback   = errors.New("stkCallback result could not be decoded")
	ErrMissingCheckoutID = errors.New("checkoutRequestID required")

	ErrCredential      = daraja.ErrCredential
	ErrGatewayRejected = daraja.ErrGatewayRejected

	ErrNotFound   = store.ErrNotFound
	ErrStoreRead  = store.ErrStoreRead
	ErrStoreWrite = store.ErrStoreWrite
)
