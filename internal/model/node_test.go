package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestStatusFromCode(t *testing.T) {
	cases := map[uint8]NodeStatus{0: StatusPending, 1: StatusActive, 2: StatusSuspended, 3: StatusRetired}
	for code, want := range cases {
		got, ok := StatusFromCode(code)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	_, ok := StatusFromCode(4)
	require.False(t, ok)
}

func TestNodePatchInitialStatus(t *testing.T) {
	active := StatusActive

	created, err := NodePatch{InitialStatus: &active, Block: 5}.Apply(NewNode("1"), true)
	require.NoError(t, err)
	require.Equal(t, StatusActive, created.Status)

	existing := NewNode("1")
	existing.Status = StatusSuspended
	kept, err := NodePatch{InitialStatus: &active, Block: 6}.Apply(existing, false)
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, kept.Status)
}

func TestNodePatchLeavesUnsetFields(t *testing.T) {
	operator := "0xabc"
	staked := "500"
	node, err := NodePatch{Operator: &operator, StakedAmount: &staked, Block: 3}.Apply(NewNode("7"), true)
	require.NoError(t, err)

	uptime := uint64(10)
	node, err = NodePatch{UptimeSeconds: &uptime, Block: 9}.Apply(node, false)
	require.NoError(t, err)
	require.Equal(t, "0xabc", *node.Operator)
	require.Equal(t, "500", *node.StakedAmount)
	require.Equal(t, uint64(10), node.UptimeSeconds)
	require.Equal(t, uint64(9), node.UpdatedBlock)

	node, err = NodePatch{Block: 4}.Apply(node, false)
	require.NoError(t, err)
	require.Equal(t, uint64(9), node.UpdatedBlock)
}

func TestNodePatchRevenue(t *testing.T) {
	add := decimal.NewFromInt(100)
	node, err := NodePatch{AddRevenue: &add}.Apply(NewNode("7"), true)
	require.NoError(t, err)
	node, err = NodePatch{AddRevenue: &add}.Apply(node, false)
	require.NoError(t, err)
	require.Equal(t, "200", node.TotalRevenue)

	node.TotalRevenue = "not-a-number"
	_, err = NodePatch{AddRevenue: &add}.Apply(node, false)
	require.Error(t, err)
}

func TestNodePatchActivatedAt(t *testing.T) {
	first := time.Unix(100, 0).UTC()
	second := time.Unix(200, 0).UTC()
	active := StatusActive
	suspended := StatusSuspended

	node, err := NodePatch{Status: &active, ActivatedAt: &first}.Apply(NewNode("1"), true)
	require.NoError(t, err)
	require.Equal(t, first, *node.ActivatedAt)

	node, err = NodePatch{Status: &active, ActivatedAt: &second}.Apply(node, false)
	require.NoError(t, err)
	require.Equal(t, first, *node.ActivatedAt)

	node, err = NodePatch{Status: &suspended, ActivatedAt: &second}.Apply(node, false)
	require.NoError(t, err)
	require.Equal(t, first, *node.ActivatedAt)

	node, err = NodePatch{Status: &active, ActivatedAt: &second}.Apply(node, false)
	require.NoError(t, err)
	require.Equal(t, second, *node.ActivatedAt)
}

func TestNodePatchRegisteredAtKeepsFirst(t *testing.T) {
	first := time.Unix(100, 0).UTC()
	second := time.Unix(200, 0).UTC()
	node, err := NodePatch{RegisteredAt: &first}.Apply(NewNode("1"), true)
	require.NoError(t, err)
	node, err = NodePatch{RegisteredAt: &second}.Apply(node, false)
	require.NoError(t, err)
	require.Equal(t, first, *node.RegisteredAt)
}

func TestTreasuryShare(t *testing.T) {
	event := RevenueDistributed{
		TotalAmount:   decimal.NewFromInt(100),
		LesseeShare:   decimal.NewFromInt(60),
		OperatorShare: decimal.NewFromInt(30),
	}
	require.Equal(t, "10", event.TreasuryShare().String())
}

func TestLogMetaKey(t *testing.T) {
	require.Equal(t, "0xabc:4", LogMeta{TxHash: "0xabc", LogIndex: 4}.Key())
}

func TestNewStatsZeroFilled(t *testing.T) {
	stats := NewStats()
	require.Len(t, stats.EventsByKind, len(AllKinds))
	for _, kind := range AllKinds {
		require.Zero(t, stats.EventsByKind[kind])
	}
}
