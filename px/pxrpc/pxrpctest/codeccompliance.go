package pxrpctest

import (
	"testing"

	"github.com/gordian-engine/gproxy/px/pxrpc"
	"github.com/stretchr/testify/require"
)

// TestMarshalCodecCompliance checks the behavior every [pxrpc.MarshalCodec] must share.
func TestMarshalCodecCompliance(t *testing.T, newCodec func() pxrpc.MarshalCodec) {
	t.Run("sample messages round trip", func(t *testing.T) {
		t.Parallel()

		c := newCodec()
		for _, m := range SampleMessages() {
			b, err := c.MarshalMessage(m)
			require.NoError(t, err, m.Kind().String())

			var got pxrpc.Message
			require.NoError(t, c.UnmarshalMessage(b, &got), m.Kind().String())
			require.Equal(t, m, got)
		}
	})

	t.Run("marshal rejects invalid messages", func(t *testing.T) {
		t.Parallel()

		c := newCodec()

		_, err := c.MarshalMessage(pxrpc.Message{})
		require.ErrorIs(t, err, pxrpc.InvalidMessageError{})

		both := pxrpc.Message{
			VersionInfoQuery:        &pxrpc.VersionInfoQuery{},
			NetworkDescriptionQuery: &pxrpc.NetworkDescriptionQuery{},
		}
		_, err = c.MarshalMessage(both)
		require.ErrorIs(t, err, pxrpc.InvalidMessageError{})
	})

	t.Run("unmarshal rejects garbage", func(t *testing.T) {
		t.Parallel()

		c := newCodec()

		var m pxrpc.Message
		require.Error(t, c.UnmarshalMessage([]byte("\x00\x01 not a message"), &m))
		require.Equal(t, pxrpc.Message{}, m)
	})
}
