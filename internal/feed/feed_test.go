package feed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/sentinel/pkg/types"
)

func TestStaticSourcePreloaded(t *testing.T) {
	src := NewStaticSource(
		types.Scorecard{LoopID: "loop-1", AgentID: "agent-a", Status: types.ScorecardCompleted},
		types.Scorecard{LoopID: "loop-2", AgentID: "agent-b", Status: types.ScorecardFailed},
	)

	cards, err := src.FetchRecentScorecards(context.Background())
	require.NoError(t, err)
	assert.Len(t, cards, 2)
	assert.Equal(t, "loop-1", cards[0].LoopID)
}

func TestStaticSourceSetReplaces(t *testing.T) {
	src := NewStaticSource(types.Scorecard{LoopID: "loop-1"})

	src.Set(types.Scorecard{LoopID: "loop-9", AgentID: "agent-z"})

	cards, err := src.FetchRecentScorecards(context.Background())
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "loop-9", cards[0].LoopID)
	assert.Equal(t, "agent-z", cards[0].AgentID)
}

func TestStaticSourceReturnsCopy(t *testing.T) {
	src := NewStaticSource(types.Scorecard{LoopID: "loop-1"})

	cards, err := src.FetchRecentScorecards(context.Background())
	require.NoError(t, err)
	cards[0].LoopID = "tampered"

	again, err := src.FetchRecentScorecards(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "loop-1", again[0].LoopID)
}
