package indexer

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"nodeIndexer/internal/model"
	"nodeIndexer/internal/storage"
)

// Handler applies decoded events to the domain tables. Every event is applied
// in one transaction whose first write is the RawEvent row; a duplicate
// (tx hash, log index) makes the whole event a no-op.
type Handler struct {
	store  storage.DomainStore
	logger *zap.Logger
}

func NewHandler(store storage.DomainStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// Handle applies event and reports whether it changed anything.
func (h *Handler) Handle(ctx context.Context, event model.Event) (bool, error) {
	var applied bool
	err := h.store.InTx(ctx, func(tx storage.Tx) error {
		v := &txVisitor{ctx: ctx, tx: tx, logger: h.logger}
		if err := event.Accept(v); err != nil {
			return err
		}
		applied = v.applied
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

type txVisitor struct {
	ctx     context.Context
	tx      storage.Tx
	logger  *zap.Logger
	applied bool
}

var _ model.EventVisitor = (*txVisitor)(nil)

// record writes the audit row; false means the log was already handled.
func (v *txVisitor) record(kind model.EventKind, meta model.LogMeta, fill func(*model.RawEvent)) (bool, error) {
	raw := model.RawEvent{
		Kind:        kind,
		Contract:    meta.Contract,
		BlockNumber: meta.BlockNumber,
		BlockHash:   meta.BlockHash,
		TxHash:      meta.TxHash,
		LogIndex:    meta.LogIndex,
		BlockTime:   blockTime(meta),
		Metadata:    map[string]string{},
	}
	if fill != nil {
		fill(&raw)
	}
	inserted, err := v.tx.InsertRawEvent(v.ctx, raw)
	if err != nil {
		return false, err
	}
	if !inserted {
		v.logger.Debug("log already handled",
			zap.String("event", string(kind)),
			zap.String("tx", meta.TxHash),
			zap.Uint64("log_index", meta.LogIndex),
		)
		return false, nil
	}
	v.applied = true
	return true, nil
}

func (v *txVisitor) upsertNode(nodeID string, patch model.NodePatch) error {
	_, err := v.tx.UpsertNode(v.ctx, nodeID, patch)
	return err
}

func (v *txVisitor) VisitNodeMinted(e model.NodeMinted) error {
	fresh, err := v.record(e.Kind(), e.Meta(), func(raw *model.RawEvent) {
		raw.NodeID = ptr(e.NodeID)
		raw.Operator = ptr(e.Operator)
		raw.Amount = ptr(e.Price.String())
		raw.Metadata["node_type"] = strconv.Itoa(int(e.NodeType))
		raw.Metadata["tier"] = strconv.Itoa(int(e.Tier))
	})
	if err != nil || !fresh {
		return err
	}
	at := blockTime(e.Meta())
	return v.upsertNode(e.NodeID, model.NodePatch{
		NodeType:      ptr(e.NodeType),
		Tier:          ptr(e.Tier),
		Operator:      ptr(e.Operator),
		PurchasePrice: ptr(e.Price.String()),
		InitialStatus: ptr(model.StatusActive),
		ActivatedAt:   &at,
		Block:         e.BlockNumber,
	})
}

func (v *txVisitor) VisitNodeRegistered(e model.NodeRegistered) error {
	fresh, err := v.record(e.Kind(), e.Meta(), func(raw *model.RawEvent) {
		raw.NodeID = ptr(e.NodeID)
		raw.Operator = ptr(e.Operator)
		raw.Amount = ptr(e.StakedAmount.String())
		raw.Metadata["node_type"] = strconv.Itoa(int(e.NodeType))
	})
	if err != nil || !fresh {
		return err
	}
	at := blockTime(e.Meta())
	return v.upsertNode(e.NodeID, model.NodePatch{
		NodeType:      ptr(e.NodeType),
		Operator:      ptr(e.Operator),
		StakedAmount:  ptr(e.StakedAmount.String()),
		InitialStatus: ptr(model.StatusPending),
		RegisteredAt:  &at,
		Block:         e.BlockNumber,
	})
}

func (v *txVisitor) VisitNodeStatusChanged(e model.NodeStatusChanged) error {
	status, known := model.StatusFromCode(e.NewStatus)
	fresh, err := v.record(e.Kind(), e.Meta(), func(raw *model.RawEvent) {
		raw.NodeID = ptr(e.NodeID)
		raw.Metadata["old_status"] = strconv.Itoa(int(e.OldStatus))
		raw.Metadata["new_status"] = strconv.Itoa(int(e.NewStatus))
		if known {
			raw.Metadata["status"] = string(status)
		}
	})
	if err != nil || !fresh {
		return err
	}
	if !known {
		v.logger.Warn("unknown node status code",
			zap.String("node_id", e.NodeID),
			zap.Uint8("code", e.NewStatus),
			zap.Uint64("block", e.BlockNumber),
		)
		return nil
	}
	at := blockTime(e.Meta())
	return v.upsertNode(e.NodeID, model.NodePatch{
		Status:      &status,
		ActivatedAt: &at,
		Block:       e.BlockNumber,
	})
}

func (v *txVisitor) VisitNodeSlashed(e model.NodeSlashed) error {
	_, err := v.record(e.Kind(), e.Meta(), func(raw *model.RawEvent) {
		raw.NodeID = ptr(e.NodeID)
		raw.Amount = ptr(e.Amount.String())
		raw.Metadata["reason"] = e.Reason
	})
	return err
}

func (v *txVisitor) VisitLeaseCreated(e model.LeaseCreated) error {
	_, err := v.record(e.Kind(), e.Meta(), func(raw *model.RawEvent) {
		raw.NodeID = ptr(e.NodeID)
		raw.Buyer = ptr(e.Lessee)
		raw.Amount = ptr(e.MonthlyFee.String())
		raw.Metadata["lease_id"] = e.LeaseID
		raw.Metadata["monthly_fee"] = e.MonthlyFee.String()
		raw.Metadata["duration"] = e.Duration.String()
	})
	return err
}

func (v *txVisitor) VisitLeaseFeePayment(e model.LeaseFeePayment) error {
	_, err := v.record(e.Kind(), e.Meta(), func(raw *model.RawEvent) {
		raw.NodeID = ptr(e.NodeID)
		raw.Buyer = ptr(e.Payer)
		raw.Amount = ptr(e.Amount.String())
		raw.Metadata["lease_id"] = e.LeaseID
	})
	return err
}

func (v *txVisitor) VisitRevenueDistributed(e model.RevenueDistributed) error {
	treasury := e.TreasuryShare()
	fresh, err := v.record(e.Kind(), e.Meta(), func(raw *model.RawEvent) {
		raw.NodeID = ptr(e.NodeID)
		raw.Amount = ptr(e.TotalAmount.String())
		raw.Metadata["lease_id"] = e.LeaseID
		raw.Metadata["lessee_share"] = e.LesseeShare.String()
		raw.Metadata["operator_share"] = e.OperatorShare.String()
		raw.Metadata["treasury_share"] = treasury.String()
	})
	if err != nil || !fresh {
		return err
	}
	if treasury.IsNegative() {
		v.logger.Warn("revenue shares exceed total",
			zap.String("node_id", e.NodeID),
			zap.String("tx", e.TxHash),
			zap.String("treasury_share", treasury.String()),
		)
	}

	inserted, err := v.tx.InsertRevenueDistribution(v.ctx, model.RevenueDistribution{
		Contract:      e.Contract,
		BlockNumber:   e.BlockNumber,
		TxHash:        e.TxHash,
		LogIndex:      e.LogIndex,
		LeaseID:       e.LeaseID,
		NodeID:        e.NodeID,
		TotalAmount:   e.TotalAmount.String(),
		LesseeShare:   e.LesseeShare.String(),
		OperatorShare: e.OperatorShare.String(),
		TreasuryShare: treasury.String(),
		DistributedAt: blockTime(e.Meta()),
	})
	if err != nil || !inserted {
		return err
	}
	total := e.TotalAmount
	return v.upsertNode(e.NodeID, model.NodePatch{
		AddRevenue: &total,
		Block:      e.BlockNumber,
	})
}

func (v *txVisitor) VisitPerformanceRecorded(e model.PerformanceRecorded) error {
	fresh, err := v.record(e.Kind(), e.Meta(), func(raw *model.RawEvent) {
		raw.NodeID = ptr(e.NodeID)
		raw.Metadata["uptime_seconds"] = strconv.FormatUint(e.UptimeSeconds, 10)
		raw.Metadata["downtime_seconds"] = strconv.FormatUint(e.DowntimeSeconds, 10)
		raw.Metadata["timestamp"] = strconv.FormatUint(e.Timestamp, 10)
	})
	if err != nil || !fresh {
		return err
	}
	checked := eventTime(e.Timestamp, e.Meta())
	return v.upsertNode(e.NodeID, model.NodePatch{
		UptimeSeconds:   ptr(e.UptimeSeconds),
		DowntimeSeconds: ptr(e.DowntimeSeconds),
		LastHealthCheck: &checked,
		Block:           e.BlockNumber,
	})
}

func (v *txVisitor) VisitWithdrawalProcessed(e model.WithdrawalProcessed) error {
	_, err := v.record(e.Kind(), e.Meta(), func(raw *model.RawEvent) {
		raw.NodeID = ptr(e.NodeID)
		raw.Operator = ptr(e.Recipient)
		raw.Amount = ptr(e.Amount.String())
	})
	return err
}

func (v *txVisitor) VisitNodeActivated(e model.NodeActivated) error {
	fresh, err := v.record(e.Kind(), e.Meta(), func(raw *model.RawEvent) {
		raw.NodeID = ptr(e.NodeID)
		raw.Operator = ptr(e.Operator)
		raw.Metadata["timestamp"] = strconv.FormatUint(e.Timestamp, 10)
	})
	if err != nil || !fresh {
		return err
	}
	at := eventTime(e.Timestamp, e.Meta())
	return v.upsertNode(e.NodeID, model.NodePatch{
		Operator:    ptr(e.Operator),
		Status:      ptr(model.StatusActive),
		ActivatedAt: &at,
		Block:       e.BlockNumber,
	})
}

func blockTime(meta model.LogMeta) time.Time {
	return time.Unix(int64(meta.Timestamp), 0).UTC()
}

// eventTime prefers a timestamp carried in the event over the block time.
func eventTime(ts uint64, meta model.LogMeta) time.Time {
	if ts == 0 {
		return blockTime(meta)
	}
	return time.Unix(int64(ts), 0).UTC()
}

func ptr[T any](v T) *T {
	return &v
}
