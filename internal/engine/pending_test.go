package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPendingResolvesOnce(t *testing.T) {
	p := newPending(KindAdd, "local-1-abc")
	require.Equal(t, OutcomePending, p.Outcome())
	require.Equal(t, "local-1-abc", p.ID())

	select {
	case <-p.Done():
		t.Fatal("done before resolve")
	default:
	}

	p.resolve(OutcomeConfirmed, "srv1", nil)
	p.resolve(OutcomeRolledBack, "", errors.New("late"))

	require.NoError(t, p.Wait(context.Background()))
	require.Equal(t, OutcomeConfirmed, p.Outcome())
	require.Equal(t, "srv1", p.ID())
	require.Equal(t, "local-1-abc", p.TaskID())
	require.Equal(t, KindAdd, p.Kind())
}

func TestPendingWaitHonoursContext(t *testing.T) {
	p := newPending(KindDelete, "a")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)
	require.Equal(t, OutcomePending, p.Outcome())
}

func TestProvisionalIDs(t *testing.T) {
	g := newProvisionalIDs()
	seen := make(map[string]bool)
	for range 100 {
		id := g.next()
		require.True(t, IsProvisional(id))
		require.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
	require.False(t, IsProvisional("3f0c9a2e-8d1b-4c55-9a7e-1b2c3d4e5f60"))

	// another engine instance never collides
	other := newProvisionalIDs().next()
	require.False(t, seen[other])
	require.True(t, strings.HasPrefix(other, ProvisionalPrefix+"1-"))
}

func TestKindAndOutcomeNames(t *testing.T) {
	require.Equal(t, "toggle_complete", KindToggleComplete.String())
	require.Equal(t, "rolled_back", OutcomeRolledBack.String())
	require.Equal(t, NoticeDeleteFailed, noticeKindFor(KindDelete))
	require.Equal(t, "Task could not be deleted. It was restored.", Notice{Kind: NoticeDeleteFailed}.Message())
}
