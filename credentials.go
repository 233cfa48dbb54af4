package vaultlink

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator with the project's custom tags
// registered ("sol_addr" accepts base58 encoded 32 byte public keys).
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("sol_addr", func(fl validator.FieldLevel) bool {
			_, err := solana.PublicKeyFromBase58(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// identifierRules maps a channel to its validator tag and the message shown
// when the tag fails
var identifierRules = map[ChannelType]struct {
	tag      string
	messages map[string]string
}{
	ChannelGoogle: {"required,email", map[string]string{
		"": "Please enter a valid email address",
	}},
	ChannelEVM: {"required,eth_addr", map[string]string{
		"": "Please enter a valid EVM address (0x followed by 40 hex characters)",
	}},
	ChannelSolana: {"required,sol_addr", map[string]string{
		"": "Please enter a valid Solana address (32-44 characters)",
	}},
	ChannelTwitter:  {"required,startsnotwith=@", handleMessages},
	ChannelTelegram: {"required,startsnotwith=@", handleMessages},
	ChannelDiscord:  {"required,startsnotwith=@", handleMessages},
}

var handleMessages = map[string]string{
	"required":      "Please enter a username",
	"startsnotwith": "Please enter username without @ symbol",
}

// ValidateIdentifier checks a human identifier (handle, email, address) for
// the given channel. The identifier is trimmed before validation.
func ValidateIdentifier(ch ChannelType, identifier string) error {
	rule, ok := identifierRules[ch]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, string(ch))
	}
	err := Validator().Var(strings.TrimSpace(identifier), rule.tag)
	if err == nil {
		return nil
	}
	msg := rule.messages[""]
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		if m, ok := rule.messages[verrs[0].Tag()]; ok {
			msg = m
		}
	}
	if msg == "" {
		msg = err.Error()
	}
	return &userError{msg: msg, err: ErrInvalidIdentifier}
}

// NeedsBackendResolution reports whether an identifier must be normalised by
// the backend before it can be looked up on chain. Wallet addresses and
// emails are already canonical.
func NeedsBackendResolution(ch ChannelType) bool {
	return ch != ChannelEVM && ch != ChannelSolana && ch != ChannelGoogle
}

// EVMChallenge builds the message an EVM wallet signs to prove ownership
func EVMChallenge(owner, evmAddress string, chainID int64, at time.Time) string {
	return fmt.Sprintf("Link EVM wallet to AptSend\n\nAptos Address: %s\nEVM Address: %s\nChain ID: %d\nTimestamp: %d",
		owner, evmAddress, chainID, at.UnixMilli())
}

// SolanaChallenge builds the message a Solana wallet signs to prove ownership
func SolanaChallenge(owner, solanaAddress string, at time.Time) string {
	return fmt.Sprintf("Link Solana wallet to AptSend\n\nAptos Address: %s\nSolana Address: %s\nTimestamp: %d",
		owner, solanaAddress, at.UnixMilli())
}

// AuthMessage is the message an owner signs to authenticate backend requests
func AuthMessage(owner string, at time.Time) string {
	return fmt.Sprintf("Authenticate with AptSend\nAddress: %s\nTimestamp: %d", owner, at.UnixMilli())
}
