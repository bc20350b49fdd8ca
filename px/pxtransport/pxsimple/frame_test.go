package pxsimple_test

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/gordian-engine/gproxy/px/pxtransport/pxsimple"
	"github.com/stretchr/testify/require"
)

func TestFrame_compressesOnlyWhenSmaller(t *testing.T) {
	t.Parallel()

	repetitive := []byte(strings.Repeat("gproxy ", 200))
	f, err := pxsimple.AppendFrame(nil, repetitive)
	require.NoError(t, err)
	require.Equal(t, byte(1), f[0])
	require.Less(t, len(f), len(repetitive))

	got, err := pxsimple.DecodeFrame(f)
	require.NoError(t, err)
	require.Equal(t, repetitive, got)

	short := []byte("x")
	f, err = pxsimple.AppendFrame(nil, short)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 1, 'x'}, f)
}

func TestFrame_stream(t *testing.T) {
	t.Parallel()

	var buf []byte
	var err error
	for _, p := range []string{"first", "", strings.Repeat("z", 5000)} {
		buf, err = pxsimple.AppendFrame(buf, []byte(p))
		require.NoError(t, err)
	}

	r := bufio.NewReader(bytes.NewReader(buf))

	p, err := pxsimple.ReadFrame(r)
	require.NoError(t, err)
	require.Equal(t, "first", string(p))

	p, err = pxsimple.ReadFrame(r)
	require.NoError(t, err)
	require.Empty(t, p)

	p, err = pxsimple.ReadFrame(r)
	require.NoError(t, err)
	require.Len(t, p, 5000)

	_, err = pxsimple.ReadFrame(r)
	require.ErrorIs(t, err, io.EOF)
}

func TestFrame_truncated(t *testing.T) {
	t.Parallel()

	f, err := pxsimple.AppendFrame(nil, []byte("truncated payload"))
	require.NoError(t, err)

	_, err = pxsimple.ReadFrame(bufio.NewReader(bytes.NewReader(f[:len(f)-3])))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = pxsimple.DecodeFrame(f[:len(f)-3])
	require.Error(t, err)
}

func TestFrame_limits(t *testing.T) {
	t.Parallel()

	_, err := pxsimple.AppendFrame(nil, make([]byte, pxsimple.MaxFrameSize+1))
	require.ErrorIs(t, err, pxsimple.ErrFrameTooLarge)

	// Header 0, declared length MaxFrameSize+1.
	declared := []byte{0}
	declared = append(declared, 0x81, 0x80, 0x80, 0x08)
	_, err = pxsimple.ReadFrame(bufio.NewReader(bytes.NewReader(declared)))
	require.ErrorIs(t, err, pxsimple.ErrFrameTooLarge)

	_, err = pxsimple.DecodeFrame([]byte{9, 0})
	require.ErrorContains(t, err, "unrecognized header")
}
