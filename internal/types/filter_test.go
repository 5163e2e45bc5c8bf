package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterWireForm(t *testing.T) {
	since := int64(100)
	f := Filter{
		Kinds: []int{KindHighlight},
		Tags:  map[string][]string{"e": {"abc"}},
		Since: &since,
		Limit: 10,
	}

	data, err := json.Marshal(f)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, []interface{}{"abc"}, raw["#e"])
	assert.Equal(t, float64(100), raw["since"])
	assert.Equal(t, float64(10), raw["limit"])
	assert.NotContains(t, raw, "ids")
	assert.NotContains(t, raw, "until")

	var back Filter
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, f, back)
}

func TestFilterMatches(t *testing.T) {
	ev := Event{
		ID:        "id1",
		PubKey:    "pk1",
		CreatedAt: 50,
		Kind:      KindComment,
		Tags:      [][]string{{"E", "root"}, {"K", "30023"}},
	}

	assert.True(t, Filter{}.Matches(ev))
	assert.True(t, Filter{Kinds: []int{KindComment}, Tags: map[string][]string{"E": {"root"}}}.Matches(ev))
	assert.False(t, Filter{Tags: map[string][]string{"E": {"other"}}}.Matches(ev))
	assert.False(t, Filter{Authors: []string{"pk2"}}.Matches(ev))

	until := int64(49)
	assert.False(t, Filter{Until: &until}.Matches(ev))
}

func TestTimestampAcceptsStringAndNumber(t *testing.T) {
	var inv LightningInvoice
	require.NoError(t, json.Unmarshal([]byte(`{"payment_hash":"h","expires_at":"2025-01-02T03:04:05Z","settled_at":1700000000}`), &inv))
	assert.Equal(t, 2025, inv.ExpiresAt.Year())
	assert.Equal(t, int64(1700000000), inv.SettledAt.Unix())

	var status PaymentStatus
	require.NoError(t, json.Unmarshal([]byte(`{"paid":true,"settled_at":null}`), &status))
	assert.True(t, status.Paid)
	assert.True(t, status.SettledAt.IsZero())
}
