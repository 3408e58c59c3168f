package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolvedRange_DefaultsToConfiguredStartAndEnd(t *testing.T) {
	cfg := &Config{StartBlock: 100, EndBlock: 200}
	start, end := cfg.ResolvedRange(0)
	require.Equal(t, uint64(100), start)
	require.Equal(t, uint64(200), end)
}

func TestResolvedRange_StartBlockOffsetAnchorsToChainHead(t *testing.T) {
	cfg := &Config{StartBlock: 100, EndBlock: 200, StartBlockOffset: 50}
	start, end := cfg.ResolvedRange(1000)
	require.Equal(t, uint64(950), start)
	require.Equal(t, uint64(200), end)
}

func TestResolvedRange_NumBlocksToProcessBoundsCountFromStart(t *testing.T) {
	cfg := &Config{
		StartBlock:         100,
		EndBlock:           10000,
		NumBlocksToProcess: BlockRange{Count: 5},
	}
	start, end := cfg.ResolvedRange(0)
	require.Equal(t, uint64(100), start)
	require.Equal(t, uint64(104), end, "5 blocks starting at 100 is an inclusive range of 100..104")
}

func TestResolvedRange_AllKeepsConfiguredEndBlock(t *testing.T) {
	cfg := &Config{
		StartBlock:         100,
		EndBlock:           300,
		NumBlocksToProcess: BlockRange{All: true},
	}
	start, end := cfg.ResolvedRange(0)
	require.Equal(t, uint64(100), start)
	require.Equal(t, uint64(300), end)
}

func TestResolvedRange_OffsetAndCountCompose(t *testing.T) {
	cfg := &Config{
		StartBlock:         0,
		EndBlock:           0,
		StartBlockOffset:   100,
		NumBlocksToProcess: BlockRange{Count: 5},
	}
	start, end := cfg.ResolvedRange(1000)
	require.Equal(t, uint64(900), start)
	require.Equal(t, uint64(904), end)
}

func TestResolvedRange_OffsetExceedingLatestClampsToZero(t *testing.T) {
	cfg := &Config{StartBlockOffset: 500}
	start, _ := cfg.ResolvedRange(100)
	require.Equal(t, uint64(0), start)
}
