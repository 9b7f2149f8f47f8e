package rangeio

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamSeekerAndSliceAgree(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")

	sliceR := FromBytes(data)
	streamR := FromStreamSeeker(bytes.NewReader(data))

	for _, rng := range [][2]uint64{{0, 5}, {4, 9}, {10, 10}, {0, uint64(len(data))}} {
		start, end := rng[0], rng[1]
		a, err := ReadRangeToVec(sliceR, start, end)
		require.NoError(t, err)
		b, err := ReadRangeToVec(streamR, start, end)
		require.NoError(t, err)
		require.Equal(t, a, b)
	}
}

func TestReadRangeExactShortRead(t *testing.T) {
	r := FromBytes([]byte("short"))
	buf := make([]byte, 10)
	err := ReadRangeExact(r, 0, buf)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestAsyncAdapter(t *testing.T) {
	data := []byte("0123456789")
	ar := Async(FromBytes(data))
	buf := make([]byte, 4)
	n, err := ar.ReadRangeAsync(context.Background(), 2, buf)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []byte("2345"), buf)
}

func TestAsyncStreamSeeker(t *testing.T) {
	data := []byte("abcdefghij")
	ar := FromAsyncStreamSeeker(bytes.NewReader(data))
	got, err := ReadRangeToVecAsync(context.Background(), ar, 3, 7)
	require.NoError(t, err)
	require.Equal(t, []byte("defg"), got)
}
