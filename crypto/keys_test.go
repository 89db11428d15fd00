package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	var raw [20]byte
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	addr := NewAddress(raw)
	encoded := addr.String()
	require.True(t, strings.HasPrefix(encoded, AddressPrefix+"1"))

	decoded, err := DecodeAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, raw, decoded.Bytes())
}

func TestDecodeAddressRejectsWrongPrefix(t *testing.T) {
	_, err := DecodeAddress("xyz1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq")
	require.Error(t, err)

	_, err = DecodeAddress("not-bech32")
	require.Error(t, err)
}

func TestAddressFromBytesLength(t *testing.T) {
	_, err := AddressFromBytes(make([]byte, 19))
	require.Error(t, err)

	addr, err := AddressFromBytes(make([]byte, 20))
	require.NoError(t, err)
	require.Equal(t, [20]byte{}, addr.Bytes())
}

func TestKeyDerivesStableAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	restored, err := PrivateKeyFromBytes(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address(), restored.PubKey().Address())
}
