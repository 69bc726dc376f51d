package crypto

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/research-ag/icrc1-auction/internal/common"
)

func TestSecretBox_RoundTrip(t *testing.T) {
	box, err := NewSecretBox(bytes.Repeat([]byte{7}, KeySize))
	require.NoError(t, err)

	sealed, err := box.Seal([]byte("bid:10000:100"))
	require.NoError(t, err)

	plain, err := box.Decrypt(context.Background(), sealed)
	require.NoError(t, err)
	assert.Equal(t, "bid:10000:100", string(plain))
}

func TestSecretBox_Rejects(t *testing.T) {
	_, err := NewSecretBox([]byte("short"))
	assert.Error(t, err)

	box, err := NewSecretBox(bytes.Repeat([]byte{7}, KeySize))
	require.NoError(t, err)
	other, err := NewSecretBox(bytes.Repeat([]byte{8}, KeySize))
	require.NoError(t, err)

	sealed, err := other.Seal([]byte("ask:5:42.5"))
	require.NoError(t, err)
	_, err = box.Decrypt(context.Background(), sealed)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = box.Decrypt(context.Background(), []byte{0, 1, 2})
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestPassthrough(t *testing.T) {
	plain, err := Passthrough{}.Decrypt(context.Background(), []byte("ask:5:42.5"))
	require.NoError(t, err)
	assert.Equal(t, "ask:5:42.5", string(plain))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Passthrough{}.Decrypt(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
