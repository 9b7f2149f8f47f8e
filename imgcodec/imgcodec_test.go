package imgcodec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLZWRoundTrip(t *testing.T) {
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i % 37)
	}
	enc, err := Encode(LZW, data)
	require.NoError(t, err)
	dec, err := Decode(LZW, enc)
	require.NoError(t, err)
	require.Equal(t, data, dec)
}

func TestDeflateRoundTrip(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog, repeated, repeated, repeated")
	enc, err := Encode(DeflateAdobe, data)
	require.NoError(t, err)
	dec, err := Decode(DeflateAdobe, enc)
	require.NoError(t, err)
	require.Equal(t, data, dec)
}

func TestUncompressedIsIdentity(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	enc, err := Encode(Uncompressed, data)
	require.NoError(t, err)
	require.Equal(t, data, enc)
	dec, err := Decode(Uncompressed, enc)
	require.NoError(t, err)
	require.Equal(t, data, dec)
}

func TestUnsupportedCompression(t *testing.T) {
	_, err := Decode(JPEG, []byte{1, 2, 3})
	var cerr *CompressionNotSupportedError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, JPEG, cerr.Code)
}

func TestHorizontalPredictorRoundTrip(t *testing.T) {
	// 4-wide, 3 samples/pixel, one row.
	raw := []byte{10, 20, 30, 12, 22, 32, 14, 24, 34, 16, 26, 36}
	predicted, err := Predict(PredictorHorizontal, raw, 4, 3, 8)
	require.NoError(t, err)
	back, err := Unpredict(PredictorHorizontal, predicted, 4, 3, 8)
	require.NoError(t, err)
	require.Equal(t, raw, back)
}

func TestPredictorNoIsIdentity(t *testing.T) {
	raw := []byte{1, 2, 3, 4}
	out, err := Unpredict(PredictorNo, raw, 4, 1, 8)
	require.NoError(t, err)
	require.Equal(t, raw, out)
}

func TestFloatingPointPredictorUnsupported(t *testing.T) {
	_, err := Unpredict(PredictorFloatingPoint, []byte{1, 2, 3, 4}, 1, 1, 32)
	var perr *PredictorNotSupportedError
	require.ErrorAs(t, err, &perr)
}

func TestHorizontalPredictorRejectsWideBitsPerSample(t *testing.T) {
	_, err := Unpredict(PredictorHorizontal, []byte{1, 2, 3, 4}, 1, 1, 16)
	require.Error(t, err)
}
