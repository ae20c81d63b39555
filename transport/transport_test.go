package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeHappyPath(t *testing.T) {
	f := NewFake([]byte("LOKE\x00\x00\x00"))
	err := Handshake(f, time.Second)
	require.NoError(t, err)
	require.Len(t, f.Sent, 1)
	assert.Equal(t, []byte("ODIN"), f.Sent[0])
}

func TestHandshakeRejection(t *testing.T) {
	f := NewFake([]byte("NOPE"))
	err := Handshake(f, time.Second)
	require.Error(t, err)
	var hsErr *HandshakeError
	require.True(t, errors.As(err, &hsErr))
	assert.Equal(t, "LOKE", hsErr.Expected)
	assert.Equal(t, []byte("NOPE"), hsErr.Received)
}

func TestSendFramedMarkers(t *testing.T) {
	cases := []struct {
		name   string
		marker EmptyTransfer
		want   [][]byte
	}{
		{"none", EmptyTransferNone, [][]byte{{1, 2, 3}}},
		{"before", EmptyTransferBefore, [][]byte{{}, {1, 2, 3}}},
		{"after", EmptyTransferAfter, [][]byte{{1, 2, 3}, {}}},
		{"both", EmptyTransferBeforeAndAfter, [][]byte{{}, {1, 2, 3}, {}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := NewFake()
			err := SendFramed(f, []byte{1, 2, 3}, c.marker, time.Second)
			require.NoError(t, err)
			assert.Equal(t, c.want, f.Sent)
		})
	}
}

func TestWithRetrySucceedsEventually(t *testing.T) {
	attempts := 0
	err := WithRetry(time.Millisecond, func(attempt int) error {
		attempts++
		if attempt < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryExhausted(t *testing.T) {
	attempts := 0
	err := WithRetry(time.Millisecond, func(int) error {
		attempts++
		return errors.New("persistent")
	})
	require.Error(t, err)
	assert.Equal(t, maxRetries+1, attempts)
}

func TestIsKnownProduct(t *testing.T) {
	assert.True(t, isKnownProduct(0x6601))
	assert.False(t, isKnownProduct(0xffff))
}
