package model

import (
	"github.com/shopspring/decimal"
)

// EventKind names a recognized contract event.
type EventKind string

const (
	KindNodeMinted          EventKind = "NodeMinted"
	KindNodeRegistered      EventKind = "NodeRegistered"
	KindNodeStatusChanged   EventKind = "NodeStatusChanged"
	KindNodeSlashed         EventKind = "NodeSlashed"
	KindLeaseCreated        EventKind = "LeaseCreated"
	KindLeaseFeePayment     EventKind = "LeaseFeePayment"
	KindRevenueDistributed  EventKind = "RevenueDistributed"
	KindPerformanceRecorded EventKind = "PerformanceRecorded"
	KindWithdrawalProcessed EventKind = "WithdrawalProcessed"
	KindNodeActivated       EventKind = "NodeActivated"
)

// AllKinds lists every event kind in a stable order.
var AllKinds = []EventKind{
	KindNodeMinted,
	KindNodeRegistered,
	KindNodeStatusChanged,
	KindNodeSlashed,
	KindLeaseCreated,
	KindLeaseFeePayment,
	KindRevenueDistributed,
	KindPerformanceRecorded,
	KindWithdrawalProcessed,
	KindNodeActivated,
}

// Event is a decoded contract event. The set of implementations is closed.
type Event interface {
	Kind() EventKind
	Meta() LogMeta
	Accept(v EventVisitor) error
}

// EventVisitor has one method per event kind. Adding a kind without a handler
// method fails to compile.
type EventVisitor interface {
	VisitNodeMinted(e NodeMinted) error
	VisitNodeRegistered(e NodeRegistered) error
	VisitNodeStatusChanged(e NodeStatusChanged) error
	VisitNodeSlashed(e NodeSlashed) error
	VisitLeaseCreated(e LeaseCreated) error
	VisitLeaseFeePayment(e LeaseFeePayment) error
	VisitRevenueDistributed(e RevenueDistributed) error
	VisitPerformanceRecorded(e PerformanceRecorded) error
	VisitWithdrawalProcessed(e WithdrawalProcessed) error
	VisitNodeActivated(e NodeActivated) error
}

// NodeMinted is emitted when a node NFT is minted to its operator.
type NodeMinted struct {
	LogMeta
	NodeID   string
	Operator string
	NodeType uint8
	Tier     uint8
	Price    decimal.Decimal
}

// NodeRegistered is emitted when an operator stakes and registers a node.
type NodeRegistered struct {
	LogMeta
	NodeID       string
	Operator     string
	NodeType     uint8
	StakedAmount decimal.Decimal
}

// NodeStatusChanged carries raw on-chain status codes.
type NodeStatusChanged struct {
	LogMeta
	NodeID    string
	OldStatus uint8
	NewStatus uint8
}

type NodeSlashed struct {
	LogMeta
	NodeID string
	Amount decimal.Decimal
	Reason string
}

// LeaseCreated is the NodeLeaseCreated contract event.
type LeaseCreated struct {
	LogMeta
	LeaseID    string
	NodeID     string
	Lessee     string
	MonthlyFee decimal.Decimal
	Duration   decimal.Decimal
}

type LeaseFeePayment struct {
	LogMeta
	LeaseID string
	NodeID  string
	Payer   string
	Amount  decimal.Decimal
}

// RevenueDistributed splits lease revenue; the treasury share is derived.
type RevenueDistributed struct {
	LogMeta
	LeaseID       string
	NodeID        string
	TotalAmount   decimal.Decimal
	LesseeShare   decimal.Decimal
	OperatorShare decimal.Decimal
}

// TreasuryShare returns total - lessee - operator.
func (e RevenueDistributed) TreasuryShare() decimal.Decimal {
	return e.TotalAmount.Sub(e.LesseeShare).Sub(e.OperatorShare)
}

type PerformanceRecorded struct {
	LogMeta
	NodeID          string
	UptimeSeconds   uint64
	DowntimeSeconds uint64
	Timestamp       uint64
}

type WithdrawalProcessed struct {
	LogMeta
	NodeID    string
	Recipient string
	Amount    decimal.Decimal
}

type NodeActivated struct {
	LogMeta
	NodeID    string
	Operator  string
	Timestamp uint64
}

func (e NodeMinted) Kind() EventKind          { return KindNodeMinted }
func (e NodeRegistered) Kind() EventKind      { return KindNodeRegistered }
func (e NodeStatusChanged) Kind() EventKind   { return KindNodeStatusChanged }
func (e NodeSlashed) Kind() EventKind         { return KindNodeSlashed }
func (e LeaseCreated) Kind() EventKind        { return KindLeaseCreated }
func (e LeaseFeePayment) Kind() EventKind     { return KindLeaseFeePayment }
func (e RevenueDistributed) Kind() EventKind  { return KindRevenueDistributed }
func (e PerformanceRecorded) Kind() EventKind { return KindPerformanceRecorded }
func (e WithdrawalProcessed) Kind() EventKind { return KindWithdrawalProcessed }
func (e NodeActivated) Kind() EventKind       { return KindNodeActivated }

func (e NodeMinted) Accept(v EventVisitor) error          { return v.VisitNodeMinted(e) }
func (e NodeRegistered) Accept(v EventVisitor) error      { return v.VisitNodeRegistered(e) }
func (e NodeStatusChanged) Accept(v EventVisitor) error   { return v.VisitNodeStatusChanged(e) }
func (e NodeSlashed) Accept(v EventVisitor) error         { return v.VisitNodeSlashed(e) }
func (e LeaseCreated) Accept(v EventVisitor) error        { return v.VisitLeaseCreated(e) }
func (e LeaseFeePayment) Accept(v EventVisitor) error     { return v.VisitLeaseFeePayment(e) }
func (e RevenueDistributed) Accept(v EventVisitor) error  { return v.VisitRevenueDistributed(e) }
func (e PerformanceRecorded) Accept(v EventVisitor) error { return v.VisitPerformanceRecorded(e) }
func (e WithdrawalProcessed) Accept(v EventVisitor) error { return v.VisitWithdrawalProcessed(e) }
func (e NodeActivated) Accept(v EventVisitor) error       { return v.VisitNodeActivated(e) }
