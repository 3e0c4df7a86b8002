package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-authgate/strava-proxy/token"
	"github.com/go-authgate/strava-proxy/upstream"
)

var (
	statsStart = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	statsEnd   = time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC)
)

func pageOf(path string) int {
	u, err := url.Parse(path)
	if err != nil {
		return -1
	}
	var page int
	fmt.Sscanf(u.Query().Get("page"), "%d", &page)
	return page
}

func TestCustomStats_AggregatesPages(t *testing.T) {
	pages := map[int]string{
		1: `[{"distance":10000,"moving_time":3600},{"distance":5000,"moving_time":1800}]`,
		2: `[{"distance":2500,"moving_time":930}]`,
	}
	api := &fakeAPI{fn: func(path, _ string) (json.RawMessage, error) {
		if body, ok := pages[pageOf(path)]; ok {
			return json.RawMessage(body), nil
		}
		return json.RawMessage(`[]`), nil
	}}

	stats, err := New(&fakeTokens{current: "A1"}, api, WithStatsTitle("Season 2025")).
		CustomStats(context.Background(), statsStart, statsEnd)
	require.NoError(t, err)

	assert.Equal(t, "Season 2025", stats.Title)
	assert.Equal(t, 3, stats.TotalActivities)
	assert.Equal(t, 17.5, stats.TotalDistanceKm)
	assert.Equal(t, "1h 45m", stats.TotalTime)
	require.NotNil(t, stats.AvgKmPerActivity)
	assert.Equal(t, 5.83, *stats.AvgKmPerActivity)
	assert.Equal(t, "2025-08-01T00:00:00Z", stats.Start)
	assert.Equal(t, "2026-12-31T23:59:00Z", stats.End)

	require.Len(t, api.calls, 3, "two full pages and the empty terminator")
	q, err := url.Parse(api.calls[0].path)
	require.NoError(t, err)
	assert.Equal(t, "/athlete/activities", q.Path)
	assert.Equal(t, "1754006400", q.Query().Get("after"))
	assert.Equal(t, "1798761540", q.Query().Get("before"))
	assert.Equal(t, "200", q.Query().Get("per_page"))
}

func TestCustomStats_Empty(t *testing.T) {
	api := &fakeAPI{fn: func(string, string) (json.RawMessage, error) {
		return json.RawMessage(`[]`), nil
	}}

	stats, err := New(&fakeTokens{current: "A1"}, api).CustomStats(context.Background(), statsStart, statsEnd)
	require.NoError(t, err)

	assert.Zero(t, stats.TotalActivities)
	assert.Zero(t, stats.TotalDistanceKm)
	assert.Equal(t, "0h 00m", stats.TotalTime)
	assert.Nil(t, stats.AvgKmPerActivity)

	raw, err := json.Marshal(stats)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), "avg_km_per_activity"))
}

func TestCustomStats_PageErrorAborts(t *testing.T) {
	api := &fakeAPI{fn: func(path, _ string) (json.RawMessage, error) {
		if pageOf(path) == 2 {
			return nil, &upstream.Error{Op: "fetch", Status: 429, Body: "slow down"}
		}
		return json.RawMessage(`[{"distance":1000,"moving_time":60}]`), nil
	}}

	_, err := New(&fakeTokens{current: "A1"}, api).CustomStats(context.Background(), statsStart, statsEnd)

	var te *token.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, token.KindUpstream, te.Kind)
	assert.Equal(t, 429, te.Status)
}

func TestCustomStats_PageCap(t *testing.T) {
	api := &fakeAPI{fn: func(string, string) (json.RawMessage, error) {
		return json.RawMessage(`[{"distance":1,"moving_time":1}]`), nil
	}}

	_, err := New(&fakeTokens{current: "A1"}, api).CustomStats(context.Background(), statsStart, statsEnd)

	require.Error(t, err)
	assert.Equal(t, maxStatsPages, api.callCount())
}

func TestCustomStats_InvalidRange(t *testing.T) {
	api := &fakeAPI{fn: func(string, string) (json.RawMessage, error) {
		t.Fatal("upstream must not be contacted")
		return nil, nil
	}}

	_, err := New(&fakeTokens{current: "A1"}, api).CustomStats(context.Background(), statsEnd, statsStart)
	assert.Error(t, err)
}
