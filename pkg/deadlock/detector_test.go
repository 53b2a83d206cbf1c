package deadlock

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestDetector() *Detector {
	return NewDetector(time.Second, zerolog.Nop())
}

func TestDetect_Empty(t *testing.T) {
	d := newTestDetector()
	report := d.Detect()
	require.False(t, report.Deadlocked)
	require.Empty(t, report.Cycle)
}

func TestDetect_TwoTaskCycle(t *testing.T) {
	d := newTestDetector()

	// A holds R1 waiting on R2; B holds R2 waiting on R1.
	d.RegisterDependency("task-a", "R1", "R2")
	d.RegisterDependency("task-b", "R2", "R1")

	report := d.Detect()
	require.True(t, report.Deadlocked)
	require.Contains(t, report.Cycle, "task-a")
	require.Contains(t, report.Cycle, "task-b")
}

func TestDetect_IndependentOwnership(t *testing.T) {
	d := newTestDetector()

	d.RegisterDependency("t1", "R1", "")
	d.RegisterDependency("t2", "R2", "")
	d.RegisterDependency("t3", "R3", "R1") // R1's owner waits on nothing

	report := d.Detect()
	require.False(t, report.Deadlocked)
}

func TestDetect_WaitOnUnownedResource(t *testing.T) {
	d := newTestDetector()

	d.RegisterDependency("t1", "R1", "R-unowned")
	report := d.Detect()
	require.False(t, report.Deadlocked)
}

func TestDetect_ThreeTaskCycle(t *testing.T) {
	d := newTestDetector()

	d.RegisterDependency("a", "R1", "R2")
	d.RegisterDependency("b", "R2", "R3")
	d.RegisterDependency("c", "R3", "R1")
	d.RegisterDependency("bystander", "R9", "")

	report := d.Detect()
	require.True(t, report.Deadlocked)
	require.Len(t, report.Cycle, 3)
	require.Subset(t, report.Cycle, []string{"a", "b", "c"})
	require.NotContains(t, report.Cycle, "bystander")
}

func TestDetect_SelfWait(t *testing.T) {
	d := newTestDetector()

	// A task blocked on the resource it holds itself.
	d.RegisterDependency("t1", "R1", "R1")

	report := d.Detect()
	require.True(t, report.Deadlocked)
	require.Equal(t, []string{"t1"}, report.Cycle)
}

func TestRegisterDependency_LastWriteWins(t *testing.T) {
	d := newTestDetector()

	d.RegisterDependency("t1", "R1", "R2")
	d.RegisterDependency("t1", "R1", "R3")

	deps := d.Dependencies()
	require.Len(t, deps, 1)
	require.Equal(t, "R3", deps[0].WaitingFor)
}

func TestReleaseDependency_BreaksCycle(t *testing.T) {
	d := newTestDetector()

	d.RegisterDependency("task-a", "R1", "R2")
	d.RegisterDependency("task-b", "R2", "R1")
	require.True(t, d.Detect().Deadlocked)

	d.ReleaseDependency("task-a")
	require.False(t, d.Detect().Deadlocked)
}

func TestRun_StopsOnCancel(t *testing.T) {
	d := NewDetector(10*time.Millisecond, zerolog.Nop())
	d.RegisterDependency("t1", "R1", "R1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after cancel")
	}
}
