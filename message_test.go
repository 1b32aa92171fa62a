package taskbag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestRequestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"publish", Request{Route: RoutePublish, ID: "a", Key: ResultsKey, Batch: Batch{2, 3, 5, 7}}},
		{"publish empty batch", Request{Route: RoutePublish, ID: "b", Key: ResultsKey, Batch: Batch{}}},
		{"take", Request{Route: RouteTake, ID: "c", Key: TasksKey}},
		{"configuration", Request{Route: RouteSetConfiguration, ID: "d", Configuration: Configuration{RangeCeiling: 1 << 40, BatchSize: 7}}},
		{"introduce", Request{Route: RouteIntroduce, ID: "e", Name: DefaultName}},
		{"negative numbers", Request{Route: RoutePublish, ID: "f", Key: "k", Batch: Batch{-1, 0, -1 << 62}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Request
			require.NoError(t, got.Unmarshal(tt.req.Marshal()))
			assert.Equal(t, tt.req, got)
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	resp := Response{
		ID:            "id",
		OK:            true,
		Batch:         Batch{11, 13},
		Count:         4,
		Configuration: Configuration{RangeCeiling: 100, BatchSize: 10},
		Cursor:        9,
	}
	var got Response
	require.NoError(t, got.Unmarshal(resp.Marshal()))
	assert.Equal(t, resp, got)

	failed := Response{ID: "id", Err: "key cannot be empty"}
	require.NoError(t, got.Unmarshal(failed.Marshal()))
	assert.Equal(t, failed, got)
	assert.False(t, got.OK)
	assert.Nil(t, got.Batch)
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	req := Request{Route: RouteCount, ID: "x", Key: TasksKey}
	data := req.Marshal()
	data = protowire.AppendTag(data, 99, protowire.BytesType)
	data = protowire.AppendString(data, "from a newer peer")
	data = protowire.AppendTag(data, 100, protowire.VarintType)
	data = protowire.AppendVarint(data, 42)

	var got Request
	require.NoError(t, got.Unmarshal(data))
	assert.Equal(t, req, got)
}

func TestUnmarshalMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"truncated tag", []byte{0x80}},
		{"route as bytes", protowire.AppendString(protowire.AppendTag(nil, reqRoute, protowire.BytesType), "x")},
		{"truncated string", append(protowire.AppendTag(nil, reqKey, protowire.BytesType), 10, 'a')},
		{"bad batch", protowire.AppendBytes(protowire.AppendTag(nil, reqBatch, protowire.BytesType), []byte{0xff})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req Request
			assert.ErrorIs(t, req.Unmarshal(tt.data), ErrMalformedFrame)
		})
	}
}

func TestDecodeBatch(t *testing.T) {
	b, err := DecodeBatch(nil)
	require.NoError(t, err)
	assert.NotNil(t, b)
	assert.Empty(t, b)

	b, err = DecodeBatch(EncodeBatch(Batch{0, 1, -2, 1 << 50}))
	require.NoError(t, err)
	assert.Equal(t, Batch{0, 1, -2, 1 << 50}, b)
}
