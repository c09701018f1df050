package payment_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func jsonField(t *testing.T, payload []byte, key string) string {
	t.Helper()

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &fields))

	raw, ok := fields[key]
	require.True(t, ok, key)

	return string(raw)
}
