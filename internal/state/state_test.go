package state

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewStoreSeedsIdleSnapshot(t *testing.T) {
	s := NewStore(2, BPMModeAuto)
	snap := s.Load()
	require.Equal(t, ProducerIdle, snap.ProducerStatus)
	require.Equal(t, 2, snap.Bars)
	require.False(t, snap.HasStation)
}

func TestPublishIncrementsVersion(t *testing.T) {
	s := NewStore(2, BPMModeAuto)
	v0 := s.Load().Version
	s.Update(func(snap *Snapshot) { snap.Bars = 4 })
	v1 := s.Load().Version
	require.Greater(t, v1, v0)
	require.Equal(t, 4, s.Load().Bars)
}

func TestRecordErrorDoesNotClearStationFields(t *testing.T) {
	s := NewStore(2, BPMModeAuto)
	s.Update(func(snap *Snapshot) {
		snap.StationName = "Radio Test"
		snap.HasStation = true
		snap.BPM = 120
		snap.HasBPM = true
	})

	s.RecordError("cycle-1", errors.New("network unreachable"))

	snap := s.Load()
	require.Equal(t, ProducerError, snap.ProducerStatus)
	require.Equal(t, "network unreachable", snap.ErrorMessage)
	require.Equal(t, "Radio Test", snap.StationName)
	require.True(t, snap.HasStation)
	require.Equal(t, 120.0, snap.BPM)
}

func TestIncrementUnderflowVisibleOnLoad(t *testing.T) {
	s := NewStore(2, BPMModeAuto)
	s.IncrementUnderflow()
	s.IncrementUnderflow()
	require.Equal(t, uint64(2), s.Load().UnderflowCount)
}

func TestControlSkipNowIsNonBlockingAndCollapses(t *testing.T) {
	c := NewControl()
	c.SkipNow()
	c.SkipNow() // second call must not block even though capacity is 1

	select {
	case <-c.SkipNowCh():
	default:
		t.Fatal("expected a pending SkipNow intent")
	}
	select {
	case <-c.SkipNowCh():
		t.Fatal("SkipNow must collapse repeats, not queue them")
	default:
	}
}

func TestControlSetBarsRejectsInvalidValues(t *testing.T) {
	c := NewControl()
	require.Error(t, c.SetBars(3))
	require.NoError(t, c.SetBars(4))
	select {
	case n := <-c.SetBarsCh():
		require.Equal(t, 4, n)
	default:
		t.Fatal("expected a pending SetBars intent")
	}
}

func TestControlSetBarsLatestWins(t *testing.T) {
	c := NewControl()
	require.NoError(t, c.SetBars(1))
	require.NoError(t, c.SetBars(4))

	select {
	case n := <-c.SetBarsCh():
		require.Equal(t, 4, n)
	default:
		t.Fatal("expected a pending SetBars intent")
	}
}

func TestControlKindsAreIndependent(t *testing.T) {
	c := NewControl()
	c.SkipNow()
	c.Shutdown()

	select {
	case <-c.ShutdownCh():
	default:
		t.Fatal("Shutdown intent should be independently observable")
	}
	select {
	case <-c.SkipNowCh():
	default:
		t.Fatal("SkipNow intent should still be pending after consuming Shutdown")
	}
}
