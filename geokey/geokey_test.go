package geokey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirectoryRoundTrip(t *testing.T) {
	d := Directory{
		Version:  1,
		Revision: [2]uint16{1, 0},
		Keys: []GeoKey{
			{Code: 1024, Value: Value{Kind: KindShort, Short: []uint16{1}}},       // GTModelTypeGeoKey
			{Code: 2048, Value: Value{Kind: KindShort, Short: []uint16{4326}}},    // GeographicTypeGeoKey
			{Code: 1026, Value: Value{Kind: KindAscii, Ascii: "WGS 84"}},          // GTCitationGeoKey
			{Code: 2057, Value: Value{Kind: KindDouble, Double: []float64{6378137.0}}},
		},
	}

	dir, doubles, ascii := Serialize(d)
	parsed, err := ParseDirectory(dir, doubles, ascii)
	require.NoError(t, err)
	require.Equal(t, d.Version, parsed.Version)
	require.Equal(t, d.Revision, parsed.Revision)
	require.Len(t, parsed.Keys, len(d.Keys))

	for i, want := range d.Keys {
		got := parsed.Keys[i]
		require.Equal(t, want.Code, got.Code)
		require.Equal(t, want.Value.Kind, got.Value.Kind)
		switch want.Value.Kind {
		case KindShort:
			require.Equal(t, want.Value.Short, got.Value.Short)
		case KindAscii:
			require.Equal(t, want.Value.Ascii, got.Value.Ascii)
		case KindDouble:
			require.Equal(t, want.Value.Double, got.Value.Double)
		}
	}
}

func TestDirectoryTruncatedHeader(t *testing.T) {
	_, err := ParseDirectory([]uint16{1, 0}, nil, "")
	require.Error(t, err)
}

func TestDirectoryKeyCountOverrun(t *testing.T) {
	_, err := ParseDirectory([]uint16{1, 1, 0, 2, 1024, 0, 1, 1}, nil, "")
	require.Error(t, err)
}

func TestGet(t *testing.T) {
	d := Directory{Keys: []GeoKey{{Code: 1024, Value: Value{Kind: KindShort, Short: []uint16{1}}}}}
	k, ok := d.Get(1024)
	require.True(t, ok)
	require.Equal(t, uint16(1024), k.Code)
	_, ok = d.Get(9999)
	require.False(t, ok)
}

func TestModelFromTagsScaled(t *testing.T) {
	m, err := ModelFromTags([]float64{0, 0, 0, 100, 200, 0}, []float64{1, 1, 0}, nil)
	require.NoError(t, err)
	require.Equal(t, ModelScaled, m.Kind)
}

func TestModelFromTagsTransformed(t *testing.T) {
	transform := make([]float64, 16)
	transform[0], transform[5] = 1, -1
	m, err := ModelFromTags(nil, nil, transform)
	require.NoError(t, err)
	require.Equal(t, ModelTransformed, m.Kind)
}

func TestModelFromTagsNone(t *testing.T) {
	_, err := ModelFromTags(nil, nil, nil)
	require.Error(t, err)
}
