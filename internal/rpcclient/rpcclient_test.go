package rpcclient

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/rylaix/backrun-auditor/internal/domain"
)

func TestIsRetryable_RateLimitMessage(t *testing.T) {
	require.True(t, isRetryable(errors.New("429 Too Many Requests")))
	require.True(t, isRetryable(errors.New("rate limit exceeded")))
}

func TestIsRetryable_NonHTTPTransportFailure(t *testing.T) {
	require.True(t, isRetryable(errors.New("connection reset by peer")))
}

func TestCallObject_OmitsAbsentFields(t *testing.T) {
	tx := domain.Transaction{
		From:     common.HexToAddress("0x1"),
		GasLimit: 21000,
	}
	obj := callObject(tx)

	require.NotContains(t, obj, "to")
	require.NotContains(t, obj, "gasPrice")
	require.NotContains(t, obj, "maxFeePerGas")
	require.NotContains(t, obj, "data")
	require.Contains(t, obj, "from")
	require.Contains(t, obj, "gas")
}

func TestCallObject_IncludesSetFeeFields(t *testing.T) {
	gasPrice := domain.NewHexNum(10)
	tx := domain.Transaction{
		From:     common.HexToAddress("0x1"),
		GasLimit: 21000,
		GasPrice: &gasPrice,
	}
	obj := callObject(tx)
	require.Equal(t, gasPrice.Hex(), obj["gasPrice"])
}
