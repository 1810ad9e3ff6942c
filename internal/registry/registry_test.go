package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/motion_ingest/internal/ingest"
	"github.com/relabs-tech/motion_ingest/internal/testutil"
)

var allowList = []string{"papE", "papD", "luvaE", "luvaD"}

func newTestRegistry(t *testing.T) (*Registry, *ingest.Queue, *testutil.FakeClock) {
	t.Helper()
	q := ingest.NewQueue()
	clock := testutil.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	r := New(Deps{
		Queue:           q,
		AllowedDevices:  allowList,
		FreshnessWindow: time.Second,
		IdleInterval:    time.Millisecond,
		Now:             clock.Now,
	})
	return r, q, clock
}

func TestProcess_DropsNonNumericFields(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	require.True(t, r.Process("papE\t1.5\t-2.25\tjunk"))

	readings := r.Readings()
	require.Len(t, readings, 1)
	assert.Equal(t, "papE", readings[0].Device)
	assert.Equal(t, []float64{1.5, -2.25}, readings[0].Values)
}

func TestProcess_UnknownDeviceLeavesRegistryUnchanged(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	require.True(t, r.Process("papD\t3\t4"))

	assert.False(t, r.Process("foo\t1\t2"))
	assert.False(t, r.Process(""))
	assert.False(t, r.Process("\t1\t2"))

	assert.Equal(t, []string{"papD"}, r.ActiveDeviceIDs())
	assert.Equal(t, []float64{3, 4}, r.Readings()[0].Values)
}

func TestParseValues_LeadingNumericPrefix(t *testing.T) {
	tests := []struct {
		fields []string
		want   []float64
	}{
		{[]string{"12.5deg", "-0.75\r", "abc", ""}, []float64{12.5, -0.75}},
		{[]string{"007", "3.", "-", "1.2.3"}, []float64{0, 3, 1.2}},
		{[]string{"+4", "-12"}, []float64{-12}},
		{nil, []float64{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseValues(tt.fields), "fields %q", tt.fields)
	}
}

func TestProcess_TrimsSurroundingWhitespace(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	require.True(t, r.Process("  luvaE\t1\t2\r\n"))
	assert.Equal(t, []float64{1, 2}, r.Readings()[0].Values)
}

func TestProcess_UpsertReplacesWholesale(t *testing.T) {
	r, _, clock := newTestRegistry(t)

	require.True(t, r.Process("papE\t1\t2\t3"))
	first := r.Readings()[0].Updated

	clock.Advance(300 * time.Millisecond)
	require.True(t, r.Process("papE\t1\t2\t3"))

	readings := r.Readings()
	require.Len(t, readings, 1, "identical message must not create a second entry")
	assert.Equal(t, first.Add(300*time.Millisecond), readings[0].Updated)

	require.True(t, r.Process("papE\t9"))
	assert.Equal(t, []float64{9}, r.Readings()[0].Values, "values are replaced, not merged")
}

func TestFreshness_ReadingExpiresAfterWindow(t *testing.T) {
	r, _, clock := newTestRegistry(t)
	require.True(t, r.Process("papE\t1\t2"))

	assert.Equal(t, []string{"papE"}, r.ActiveDeviceIDs())

	clock.Advance(999 * time.Millisecond)
	assert.Equal(t, []string{"papE"}, r.ActiveDeviceIDs())

	clock.Advance(time.Millisecond)
	assert.Empty(t, r.ActiveDeviceIDs(), "age equal to the window is stale")
	assert.Empty(t, r.SnapshotValues(nil))
	assert.Empty(t, r.Readings())
}

func TestFreshness_PurgeOnEveryProcessingStep(t *testing.T) {
	r, _, clock := newTestRegistry(t)
	require.True(t, r.Process("papE\t1\t2"))

	clock.Advance(1100 * time.Millisecond)
	assert.False(t, r.Process("foo\t1"))

	r.mu.RLock()
	defer r.mu.RUnlock()
	assert.Empty(t, r.readings, "rejected message still purges stale entries")
}

func TestSnapshotValues_ReusesBuffer(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	require.True(t, r.Process("papE\t1\t2\t3"))
	require.True(t, r.Process("papD\t4\t5"))

	buf := make([][]float64, 0, 4)
	buf = r.SnapshotValues(buf)
	require.Equal(t, [][]float64{{1, 2, 3}, {4, 5}}, buf)
	row0 := &buf[0][0]

	require.True(t, r.Process("papE\t7"))
	buf = r.SnapshotValues(buf)
	assert.Equal(t, [][]float64{{7}, {4, 5}}, buf)
	assert.Same(t, row0, &buf[0][0], "row storage should be reused")

	oversized := [][]float64{{0, 0, 0, 0}, {0}, {0}, {0}}
	oversized = r.SnapshotValues(oversized)
	assert.Equal(t, [][]float64{{7}, {4, 5}}, oversized, "outer and inner lengths are truncated")
}

func TestSnapshotValues_MatchesActiveDeviceIDs(t *testing.T) {
	r, _, clock := newTestRegistry(t)
	require.True(t, r.Process("luvaD\t1"))
	clock.Advance(600 * time.Millisecond)
	require.True(t, r.Process("papE\t2"))
	clock.Advance(500 * time.Millisecond)

	assert.Equal(t, []string{"papE"}, r.ActiveDeviceIDs())
	assert.Equal(t, [][]float64{{2}}, r.SnapshotValues(nil))
}

func TestRun_TwoSourcesEndToEnd(t *testing.T) {
	r, q, clock := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	var wg sync.WaitGroup
	for _, device := range []string{"papE", "papD"} {
		wg.Add(1)
		go func(device string) {
			defer wg.Done()
			p := ingest.Producer{Queue: q, Source: device}
			for i := 0; i < 20; i++ {
				p.Offer([]byte(fmt.Sprintf("%s\t%d.5\t-%d", device, i, i)))
			}
		}(device)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return q.Len() == 0 && len(r.ActiveDeviceIDs()) == 2
	}, time.Second, time.Millisecond)
	assert.ElementsMatch(t, []string{"papE", "papD"}, r.ActiveDeviceIDs())
	assert.Equal(t, r.ActiveDeviceIDs(), r.ActiveDeviceIDs(), "order is stable between calls")

	clock.Advance(1200 * time.Millisecond)
	assert.Empty(t, r.ActiveDeviceIDs())
	require.Eventually(t, func() bool {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return len(r.readings) == 0
	}, time.Second, time.Millisecond, "idle loop should purge stale entries")
}

func TestRun_StopsOnCancel(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, r.Run(ctx))
}
