package span

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDurationText(t *testing.T) {
	a := require.New(t)

	data, err := json.Marshal(map[string]Duration{"wait": New(1500 * time.Millisecond)})
	a.NoError(err)
	a.JSONEq(`{"wait":"1.5s"}`, string(data))

	var decoded map[string]Duration
	a.NoError(json.Unmarshal(data, &decoded))
	a.Equal(1500*time.Millisecond, decoded["wait"].Duration())

	var d Duration
	a.Error(d.UnmarshalText([]byte("soon")))
}
