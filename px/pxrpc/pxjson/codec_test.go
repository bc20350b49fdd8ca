package pxjson_test

import (
	"testing"

	"github.com/gordian-engine/gproxy/px/pxrpc"
	"github.com/gordian-engine/gproxy/px/pxrpc/pxjson"
	"github.com/gordian-engine/gproxy/px/pxrpc/pxrpctest"
	"github.com/stretchr/testify/require"
)

func TestMarshalCodec(t *testing.T) {
	pxrpctest.TestMarshalCodecCompliance(t, func() pxrpc.MarshalCodec {
		return pxjson.MarshalCodec{}
	})
}

func TestMarshalCodec_emptyObjectIsInvalid(t *testing.T) {
	t.Parallel()

	var m pxrpc.Message
	err := pxjson.MarshalCodec{}.UnmarshalMessage([]byte(`{}`), &m)
	require.ErrorIs(t, err, pxrpc.InvalidMessageError{})
}

func TestMarshalCodec_wireShape(t *testing.T) {
	t.Parallel()

	b, err := pxjson.MarshalCodec{}.MarshalMessage(pxrpc.Message{VersionInfoQuery: &pxrpc.VersionInfoQuery{}})
	require.NoError(t, err)
	require.JSONEq(t, `{"version_info_query":{}}`, string(b))
}
