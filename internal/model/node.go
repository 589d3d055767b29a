package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// NodeStatus is the lifecycle status of a registered node.
type NodeStatus string

const (
	StatusPending   NodeStatus = "pending"
	StatusActive    NodeStatus = "active"
	StatusSuspended NodeStatus = "suspended"
	StatusRetired   NodeStatus = "retired"
)

// StatusFromCode maps the contract's status enum onto NodeStatus.
func StatusFromCode(code uint8) (NodeStatus, bool) {
	switch code {
	case 0:
		return StatusPending, true
	case 1:
		return StatusActive, true
	case 2:
		return StatusSuspended, true
	case 3:
		return StatusRetired, true
	default:
		return "", false
	}
}

// Node is the indexed state of a registered node, keyed by the ledger node id.
type Node struct {
	NodeID          string     `json:"node_id"`
	NodeType        *uint8     `json:"node_type,omitempty"`
	Tier            *uint8     `json:"tier,omitempty"`
	Operator        *string    `json:"operator,omitempty"`
	Status          NodeStatus `json:"status"`
	StakedAmount    *string    `json:"staked_amount,omitempty"`
	PurchasePrice   *string    `json:"purchase_price,omitempty"`
	TotalRevenue    string     `json:"total_revenue"`
	UptimeSeconds   uint64     `json:"uptime_seconds"`
	DowntimeSeconds uint64     `json:"downtime_seconds"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty"`
	RegisteredAt    *time.Time `json:"registered_at,omitempty"`
	ActivatedAt     *time.Time `json:"activated_at,omitempty"`
	UpdatedBlock    uint64     `json:"updated_block"`
}

// NewNode returns an empty pending node.
func NewNode(nodeID string) Node {
	return Node{
		NodeID:       nodeID,
		Status:       StatusPending,
		TotalRevenue: "0",
	}
}

// NodePatch is a field-wise update. Nil fields leave the stored value alone.
type NodePatch struct {
	NodeType      *uint8
	Tier          *uint8
	Operator      *string
	StakedAmount  *string
	PurchasePrice *string

	// Status is applied unconditionally; InitialStatus only when the row is created.
	Status        *NodeStatus
	InitialStatus *NodeStatus

	AddRevenue *decimal.Decimal

	UptimeSeconds   *uint64
	DowntimeSeconds *uint64
	LastHealthCheck *time.Time

	// RegisteredAt is kept from the first sighting.
	RegisteredAt *time.Time
	// ActivatedAt is written only when the status moves into active.
	ActivatedAt *time.Time

	Block uint64
}

// Apply merges the patch into n. created reports whether n was just created
// by the caller's load-or-create.
func (p NodePatch) Apply(n Node, created bool) (Node, error) {
	prevStatus := n.Status
	if created {
		prevStatus = ""
	}

	if p.NodeType != nil {
		n.NodeType = copyPtr(p.NodeType)
	}
	if p.Tier != nil {
		n.Tier = copyPtr(p.Tier)
	}
	if p.Operator != nil {
		n.Operator = copyPtr(p.Operator)
	}
	if p.StakedAmount != nil {
		n.StakedAmount = copyPtr(p.StakedAmount)
	}
	if p.PurchasePrice != nil {
		n.PurchasePrice = copyPtr(p.PurchasePrice)
	}

	if created && p.InitialStatus != nil {
		n.Status = *p.InitialStatus
	}
	if p.Status != nil {
		n.Status = *p.Status
	}
	if n.Status == "" {
		n.Status = StatusPending
	}

	if p.AddRevenue != nil {
		current := decimal.Zero
		if n.TotalRevenue != "" {
			var err error
			current, err = decimal.NewFromString(n.TotalRevenue)
			if err != nil {
				return Node{}, fmt.Errorf("parse total revenue %q: %w", n.TotalRevenue, err)
			}
		}
		n.TotalRevenue = current.Add(*p.AddRevenue).String()
	}
	if n.TotalRevenue == "" {
		n.TotalRevenue = "0"
	}

	if p.UptimeSeconds != nil {
		n.UptimeSeconds = *p.UptimeSeconds
	}
	if p.DowntimeSeconds != nil {
		n.DowntimeSeconds = *p.DowntimeSeconds
	}
	if p.LastHealthCheck != nil {
		n.LastHealthCheck = copyPtr(p.LastHealthCheck)
	}
	if p.RegisteredAt != nil && n.RegisteredAt == nil {
		n.RegisteredAt = copyPtr(p.RegisteredAt)
	}
	if p.ActivatedAt != nil && n.Status == StatusActive && prevStatus != StatusActive {
		n.ActivatedAt = copyPtr(p.ActivatedAt)
	}

	if p.Block > n.UpdatedBlock {
		n.UpdatedBlock = p.Block
	}
	return n, nil
}

func copyPtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
