package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamDelivery(t *testing.T) {
	s := NewStream(8)
	s.Emit(Info("fetching index"))
	s.Emit(Progress(1, 3))
	s.Emit(Done(Counts{Downloaded: 1, Skipped: 2}))
	s.Close()

	var got []Event
	for ev := range s.Events() {
		got = append(got, ev)
	}

	require.Len(t, got, 3)
	require.Equal(t, KindInfo, got[0].Kind)
	require.Equal(t, 1, got[1].Done)
	require.Equal(t, 3, got[1].Total)
	require.Equal(t, KindDone, got[2].Kind)
	require.Equal(t, 3, got[2].Counts.Total())
	require.Zero(t, s.Dropped())
}

func TestStreamDropsWhenFull(t *testing.T) {
	s := NewStream(2)
	for i := 0; i < 5; i++ {
		s.Emit(Scanned(i))
	}
	s.Close()

	var got []Event
	for ev := range s.Events() {
		got = append(got, ev)
	}

	require.Len(t, got, 2)
	require.EqualValues(t, 3, s.Dropped())
}

func TestCountsTotal(t *testing.T) {
	c := Counts{Downloaded: 4, Skipped: 3, Failed: 2, DryRun: 1}
	require.Equal(t, 10, c.Total())
	require.Zero(t, Counts{}.Total())
}
