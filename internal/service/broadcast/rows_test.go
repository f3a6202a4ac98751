package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRow_VarColumns(t *testing.T) {
	r := ParseRow(map[string]any{
		"phone":                 "+62 812-0000-0001",
		"var2":                  float64(1234),
		"var1":                  "Ridwan",
		"var10":                 "ten",
		"var3":                  "",
		"name":                  "ignored",
		"follow_media":          "https://cdn.example.com/a.jpg",
		"follow_media_filename": "Brosur",
	}, "ID")

	assert.Equal(t, "6281200000001", r.Phone)
	assert.Equal(t, []string{"Ridwan", "1234", "ten"}, r.Params.Values())
	require.NotNil(t, r.FollowMedia)
	assert.Equal(t, "Brosur", r.FollowMedia.Filename)
}

func TestParseRow_OrderedParams(t *testing.T) {
	r := ParseRow(map[string]any{
		"phone":  "6281200000001",
		"params": []any{"A", "", true, float64(2.5)},
		"var1":   "ignored when params present",
	}, "ID")
	assert.Equal(t, []string{"A", "true", "2.5"}, r.Params.Values())
	assert.Equal(t, "var1", r.Params[0].Name)
	assert.Equal(t, "var3", r.Params[1].Name)
}

func TestParseRow_ToColumn(t *testing.T) {
	r := ParseRow(map[string]any{"to": "0812-0000-0002", "var1": "x"}, "ID")
	assert.Equal(t, "6281200000002", r.Phone)

	r = ParseRow(map[string]any{"phone": "6281200000003", "to": "6281200000004"}, "ID")
	assert.Equal(t, "6281200000003", r.Phone)
}

func TestParseRow_Empty(t *testing.T) {
	r := ParseRow(map[string]any{}, "ID")
	assert.Empty(t, r.Phone)
	assert.Empty(t, r.Params)
	assert.Nil(t, r.FollowMedia)
}

func TestParseScheduledAt(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)

	got, err := ParseScheduledAt("", jakarta)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = ParseScheduledAt("2026-03-10T10:00:00Z", jakarta)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC), got.UTC())

	got, err = ParseScheduledAt("2026-03-10T17:00", jakarta)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC), got.UTC())

	got, err = ParseScheduledAt("2026-03-10 17:00:30", jakarta)
	require.NoError(t, err)
	assert.Equal(t, 30, got.Second())

	_, err = ParseScheduledAt("tomorrow", jakarta)
	assert.True(t, IsValidation(err))
}
