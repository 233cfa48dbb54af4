package evm

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vl "github.com/aptsend/vaultlink"
)

// well known hardhat account #0
const (
	testKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestNewKeyWallet(t *testing.T) {
	w, err := NewKeyWallet(testKey, 8453)
	require.NoError(t, err)
	assert.Equal(t, testAddress, w.Address())
	assert.Equal(t, int64(8453), w.ChainID())
	assert.False(t, w.IsConnected())

	_, err = NewKeyWallet("0x1234", 1)
	assert.Error(t, err)
}

func TestKeyWallet_SignAndVerify(t *testing.T) {
	w, err := NewKeyWallet(testKey, 1)
	require.NoError(t, err)

	_, err = w.SignMessage(context.Background(), []byte("hello"))
	require.Error(t, err, "a disconnected wallet must not sign")

	w.Connect()
	msg := []byte(vl.EVMChallenge("0xowner", w.Address(), 1, testTime))
	sig, err := w.SignMessage(context.Background(), msg)
	require.NoError(t, err)

	raw, err := hexutil.Decode(sig)
	require.NoError(t, err)
	require.Len(t, raw, 65)
	assert.Contains(t, []byte{27, 28}, raw[64])

	ok, err := Verifier{}.Verify(w.Address(), msg, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	// lower-case addresses verify too
	ok, err = Verifier{}.Verify(strings.ToLower(w.Address()), msg, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verifier{}.Verify(w.Address(), []byte("other message"), sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifier_RawRecoveryID(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	w := NewKeyWalletFromKey(key, 1)
	w.Connect()

	sig, err := w.SignMessage(context.Background(), []byte("m"))
	require.NoError(t, err)
	raw, _ := hexutil.Decode(sig)
	raw[64] -= 27

	ok, err := Verifier{}.Verify(w.Address(), []byte("m"), hexutil.Encode(raw))
	require.NoError(t, err)
	assert.True(t, ok, "v in {0,1} is accepted")
}

func TestVerifier_Errors(t *testing.T) {
	tests := []struct {
		name    string
		address string
		sig     string
	}{
		{"bad address", "0x123", "0x" + strings.Repeat("00", 65)},
		{"not hex", testAddress, "zz"},
		{"short", testAddress, "0x1234"},
		{"bad recovery id", testAddress, "0x" + strings.Repeat("11", 64) + "05"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := Verifier{}.Verify(tt.address, []byte("m"), tt.sig)
			assert.Error(t, err)
			assert.False(t, ok)
		})
	}
}

func TestKeyWallet_Rejection(t *testing.T) {
	w, err := NewKeyWallet(testKey, 1)
	require.NoError(t, err)
	w.Connect()
	w.SetConfirm(func(context.Context, []byte) (bool, error) { return false, nil })

	_, err = w.SignMessage(context.Background(), []byte("m"))
	assert.True(t, vl.IsUserRejection(err))
}

var testTime = time.UnixMilli(1772359200000)
