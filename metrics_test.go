package rulecheck

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordRun(t *testing.T) {
	m := NewMetrics()

	m.RecordRun(10*time.Millisecond, &Result{Passed: true, Counts: Counts{Warning: 2}})
	m.RecordRun(30*time.Millisecond, &Result{Counts: Counts{Error: 1, Info: 3}})
	m.RecordRejected()
	m.RecordFailed()

	s := m.Snapshot()
	assert.Equal(t, uint64(4), s.RunsTotal)
	assert.Equal(t, uint64(1), s.RunsPassed)
	assert.Equal(t, uint64(1), s.RunsRejected)
	assert.Equal(t, uint64(1), s.RunsFailed)
	assert.InDelta(t, 0.5, s.PassRate, 1e-9)
	assert.Equal(t, uint64(20*time.Millisecond), s.AvgRunTimeNs)
	assert.Equal(t, uint64(30*time.Millisecond), s.MaxRunTimeNs)
	assert.Equal(t, uint64(1), s.ErrorsTotal)
	assert.Equal(t, uint64(2), s.WarningsTotal)
	assert.Equal(t, uint64(3), s.InfosTotal)
}

func TestMetrics_PhaseStats(t *testing.T) {
	m := NewMetrics()
	m.RecordPhase("rules", 2*time.Millisecond, 3)
	m.RecordPhase("rules", 4*time.Millisecond, 1)
	m.RecordPhase("references", time.Millisecond, 0)

	st, ok := m.PhaseStats("rules")
	require.True(t, ok)
	assert.Equal(t, uint64(2), st.Invocations)
	assert.Equal(t, 3*time.Millisecond, st.AvgTime)
	assert.Equal(t, uint64(4), st.Findings)

	_, ok = m.PhaseStats("structural")
	assert.False(t, ok)

	phases := m.Snapshot().Phases
	require.Len(t, phases, 2)
	assert.Equal(t, "references", phases[0].Name)
	assert.Equal(t, "rules", phases[1].Name)
}

func TestMetrics_Concurrent(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordRun(time.Millisecond, &Result{Passed: true})
			m.RecordPhase("rules", time.Millisecond, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(50), m.RunsTotal())
	assert.Equal(t, uint64(50), m.RunsPassed())

	m.Reset()
	assert.Zero(t, m.RunsTotal())
	assert.Empty(t, m.Snapshot().Phases)
}
