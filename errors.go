package vaultlink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Several of these are shown to users verbatim and start with a capital letter.
var (
	ErrNetwork                = errors.New("network failure")
	ErrPopupBlocked           = errors.New("Popup blocked")
	ErrOriginMismatch         = errors.New("origin mismatch")
	ErrTimeout                = errors.New("Authentication timeout")
	ErrUserRejected           = errors.New("User rejected the request")
	ErrMissingCredentialState = errors.New("Code verifier not found")
	ErrStateMismatch          = errors.New("OAuth state mismatch")
	ErrNotImplemented         = errors.New("not implemented")
	ErrSyncInProgress         = errors.New("Sync already in progress")
	ErrWalletNotConnected     = errors.New("Wallet not connected")
	ErrOwnerNotConnected      = errors.New("Aptos wallet not connected")
	ErrSignatureInvalid       = errors.New("Signature verification failed")
	ErrUnknownChannel         = errors.New("Unknown channel type")
	ErrPendingNotFound        = errors.New("pending exchange not found")
	ErrInvalidIdentifier      = errors.New("invalid identifier")
)

// BackendError is a non-2xx answer from the backend. Message is taken from
// the body's "message" or "error" field.
type BackendError struct {
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return e.Message
}

// ProviderError is an error reported by a wallet or OAuth provider, carrying
// the provider's code when there is one (4001, "ACTION_REJECTED", "access_denied")
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (code %s)", e.Message, e.Code)
}

// userError carries a user-facing message for a sentinel
type userError struct {
	msg string
	err error
}

func (e *userError) Error() string { return e.msg }
func (e *userError) Unwrap() error { return e.err }

// rejectedError marks a declined wallet prompt. Only wallet drivers produce
// it, so an OAuth consent denial is reported as a plain failure.
type rejectedError struct {
	err error
}

func (e *rejectedError) Error() string { return e.err.Error() }
func (e *rejectedError) Unwrap() error { return e.err }

func walletNotConnected(ch ChannelType) error {
	return &userError{msg: walletLabel(ch) + " wallet not connected", err: ErrWalletNotConnected}
}

func walletLabel(ch ChannelType) string {
	switch ch {
	case ChannelEVM:
		return "EVM"
	case ChannelSolana:
		return "Solana"
	}
	return string(ch)
}

// NotImplementedError reports an operation a driver does not support
func NotImplementedError(ch ChannelType, op string) error {
	return fmt.Errorf("%s %s: %w", ch, op, ErrNotImplemented)
}

var rejectionMarkers = []string{
	"user rejected",
	"user denied",
	"user cancelled",
	"user canceled",
	"4001",
	"action_rejected",
}

// WasRejected reports whether err carries a wallet driver's rejection mark
func WasRejected(err error) bool {
	var re *rejectedError
	return errors.As(err, &re)
}

// IsUserRejection reports whether err looks like a declined wallet prompt
// (provider code or message markers)
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) && (pe.Code == "4001" || strings.EqualFold(pe.Code, "ACTION_REJECTED")) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rejectionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsTimeout reports whether err is an abandonment timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNetworkFailure reports transport level failures, as opposed to the
// backend answering with an error
func IsNetworkFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNetwork) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// ErrorMessage picks the text shown to users for a failed operation
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var ue *userError
	if errors.As(err, &ue) {
		return ue.msg
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Error()
	}
	for _, sentinel := range []error{
		ErrPopupBlocked, ErrTimeout, ErrSyncInProgress, ErrWalletNotConnected,
		ErrOwnerNotConnected, ErrSignatureInvalid, ErrMissingCredentialState,
		ErrUnknownChannel,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	if errors.Is(err, context.Canceled) {
		return "Sync cancelled"
	}
	return err.Error()
}
