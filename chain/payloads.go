package chain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	vl "github.com/aptsend/vaultlink"
)

// DefaultFADecimals is used for fungible assets whose decimals are unknown
const DefaultFADecimals = 6

var ErrInvalidAmount = errors.New("amount must be a positive number")

// Module identifies the published AptSend vault module
type Module struct {
	Address string
	Name    string
}

func (m Module) function(name string) string {
	return m.Address + "::" + m.Name + "::" + name
}

// EntryFunctionPayload is the JSON shape wallets and the node accept for an
// entry function transaction
type EntryFunctionPayload struct {
	Type          string   `json:"type"`
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []any    `json:"arguments"`
}

func newPayload(function string, args ...any) *EntryFunctionPayload {
	return &EntryFunctionPayload{
		Type:          "entry_function_payload",
		Function:      function,
		TypeArguments: []string{},
		Arguments:     args,
	}
}

// ToUnits converts a human amount into smallest units, flooring any extra
// precision
func ToUnits(amount string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	units := d.Shift(decimals).Floor()
	if !units.IsPositive() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if !units.BigInt().IsUint64() {
		return 0, fmt.Errorf("%w: %q is too large", ErrInvalidAmount, amount)
	}
	return units.BigInt().Uint64(), nil
}

// u64 values are passed as strings on the JSON wire
func u64Arg(v uint64) string {
	return fmt.Sprintf("%d", v)
}

// DepositPayload deposits APT into the sender's primary vault
func DepositPayload(m Module, amount string) (*EntryFunctionPayload, error) {
	octas, err := ToUnits(amount, vl.APTDecimals)
	if err != nil {
		return nil, err
	}
	return newPayload(m.function("deposit_to_primary_vault"), u64Arg(octas)), nil
}

// WithdrawPayload withdraws APT from the sender's primary vault to an address
func WithdrawPayload(m Module, to, amount string) (*EntryFunctionPayload, error) {
	octas, err := ToUnits(amount, vl.APTDecimals)
	if err != nil {
		return nil, err
	}
	return newPayload(m.function("withdraw_from_primary_vault"), to, u64Arg(octas)), nil
}

// DepositFAPayload deposits a fungible asset identified by its metadata
// address
func DepositFAPayload(m Module, metadata, amount string, decimals int32) (*EntryFunctionPayload, error) {
	units, err := ToUnits(amount, decimals)
	if err != nil {
		return nil, err
	}
	return newPayload(m.function("deposit_fa_to_primary_vault"), metadata, u64Arg(units)), nil
}

// WithdrawFAPayload withdraws a fungible asset to an address
func WithdrawFAPayload(m Module, metadata, to, amount string, decimals int32) (*EntryFunctionPayload, error) {
	units, err := ToUnits(amount, decimals)
	if err != nil {
		return nil, err
	}
	return newPayload(m.function("withdraw_fa_from_primary_vault"), metadata, to, u64Arg(units)), nil
}

// SendPayload sends APT from the sender's primary vault to whatever vault
// routes the channel user. An unclaimed user gets a temporary route.
func SendPayload(m Module, channel vl.ChannelType, channelUserID, amount string) (*EntryFunctionPayload, error) {
	if channelUserID == "" {
		return nil, errors.New("channel user id is required")
	}
	octas, err := ToUnits(amount, vl.APTDecimals)
	if err != nil {
		return nil, err
	}
	return newPayload(m.function("send_from_primary_vault"), string(channel), channelUserID, u64Arg(octas)), nil
}
