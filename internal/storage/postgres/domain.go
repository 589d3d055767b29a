package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"nodeIndexer/internal/model"
	"nodeIndexer/internal/storage"
)

const selectNodeSQL = `
	SELECT node_id, node_type, tier, operator_address, status,
		staked_amount::text, purchase_price::text, total_revenue::text,
		uptime_seconds, downtime_seconds, last_health_check, registered_at, activated_at, updated_block
	FROM nodes`

// InTx runs fn inside one database transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertRawEvent(ctx context.Context, event model.RawEvent) (bool, error) {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO raw_events (
			kind, contract_address, block_number, block_hash, tx_hash, log_index, block_time,
			node_id, operator_address, buyer_address, amount, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tx_hash, log_index) DO NOTHING
	`,
		string(event.Kind),
		event.Contract,
		int64(event.BlockNumber),
		event.BlockHash,
		event.TxHash,
		int64(event.LogIndex),
		event.BlockTime,
		event.NodeID,
		event.Operator,
		event.Buyer,
		event.Amount,
		metadata,
	)
	if err != nil {
		return false, fmt.Errorf("insert raw event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) InsertRevenueDistribution(ctx context.Context, dist model.RevenueDistribution) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO revenue_distributions (
			contract_address, block_number, tx_hash, log_index, lease_id, node_id,
			total_amount, lessee_share, operator_share, treasury_share, distributed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tx_hash, log_index) DO NOTHING
	`,
		dist.Contract,
		int64(dist.BlockNumber),
		dist.TxHash,
		int64(dist.LogIndex),
		dist.LeaseID,
		dist.NodeID,
		dist.TotalAmount,
		dist.LesseeShare,
		dist.OperatorShare,
		dist.TreasuryShare,
		dist.DistributedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert revenue distribution: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpsertNode creates the row if missing, locks it, and writes back the merge.
func (t *pgTx) UpsertNode(ctx context.Context, nodeID string, patch model.NodePatch) (model.Node, error) {
	if nodeID == "" {
		return model.Node{}, fmt.Errorf("node id required")
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO nodes (node_id, status, total_revenue, updated_block)
		VALUES ($1, 'pending', 0, 0)
		ON CONFLICT (node_id) DO NOTHING
	`, nodeID)
	if err != nil {
		return model.Node{}, fmt.Errorf("create node %s: %w", nodeID, err)
	}
	created := tag.RowsAffected() == 1

	node, err := scanNode(t.tx.QueryRow(ctx, selectNodeSQL+` WHERE node_id = $1 FOR UPDATE`, nodeID))
	if err != nil {
		return model.Node{}, fmt.Errorf("load node %s: %w", nodeID, err)
	}

	merged, err := patch.Apply(node, created)
	if err != nil {
		return model.Node{}, err
	}

	_, err = t.tx.Exec(ctx, `
		UPDATE nodes SET
			node_type = $2,
			tier = $3,
			operator_address = $4,
			status = $5,
			staked_amount = $6,
			purchase_price = $7,
			total_revenue = $8,
			uptime_seconds = $9,
			downtime_seconds = $10,
			last_health_check = $11,
			registered_at = $12,
			activated_at = $13,
			updated_block = $14,
			updated_at = now()
		WHERE node_id = $1
	`,
		merged.NodeID,
		smallint(merged.NodeType),
		smallint(merged.Tier),
		merged.Operator,
		string(merged.Status),
		merged.StakedAmount,
		merged.PurchasePrice,
		merged.TotalRevenue,
		int64(merged.UptimeSeconds),
		int64(merged.DowntimeSeconds),
		merged.LastHealthCheck,
		merged.RegisteredAt,
		merged.ActivatedAt,
		int64(merged.UpdatedBlock),
	)
	if err != nil {
		return model.Node{}, fmt.Errorf("update node %s: %w", nodeID, err)
	}
	return merged, nil
}

func (s *Store) GetNode(ctx context.Context, nodeID string) (model.Node, error) {
	node, err := scanNode(s.pool.QueryRow(ctx, selectNodeSQL+` WHERE node_id = $1`, nodeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Node{}, storage.ErrNotFound
		}
		return model.Node{}, err
	}
	return node, nil
}

func (s *Store) ListNodes(ctx context.Context) ([]model.Node, error) {
	rows, err := s.pool.Query(ctx, selectNodeSQL+` ORDER BY node_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []model.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

func (s *Store) ListRevenueDistributions(ctx context.Context) ([]model.RevenueDistribution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT contract_address, block_number, tx_hash, log_index, lease_id, node_id,
			total_amount::text, lessee_share::text, operator_share::text, treasury_share::text, distributed_at
		FROM revenue_distributions
		ORDER BY block_number, log_index
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RevenueDistribution
	for rows.Next() {
		var (
			dist     model.RevenueDistribution
			block    int64
			logIndex int64
		)
		if err := rows.Scan(
			&dist.Contract, &block, &dist.TxHash, &logIndex, &dist.LeaseID, &dist.NodeID,
			&dist.TotalAmount, &dist.LesseeShare, &dist.OperatorShare, &dist.TreasuryShare, &dist.DistributedAt,
		); err != nil {
			return nil, err
		}
		dist.BlockNumber = uint64(block)
		dist.LogIndex = uint64(logIndex)
		out = append(out, dist)
	}
	return out, rows.Err()
}

func (s *Store) Stats(ctx context.Context) (model.Stats, error) {
	stats := model.NewStats()

	rows, err := s.pool.Query(ctx, `SELECT kind, count(*) FROM raw_events GROUP BY kind`)
	if err != nil {
		return model.Stats{}, fmt.Errorf("count raw events: %w", err)
	}
	for rows.Next() {
		var (
			kind  string
			count int64
		)
		if err := rows.Scan(&kind, &count); err != nil {
			rows.Close()
			return model.Stats{}, err
		}
		stats.EventsByKind[model.EventKind(kind)] = count
		stats.TotalEvents += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return model.Stats{}, err
	}

	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM revenue_distributions`).Scan(&stats.RevenueDistributions); err != nil {
		return model.Stats{}, fmt.Errorf("count revenue distributions: %w", err)
	}
	if err := s.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE status = 'active') FROM nodes
	`).Scan(&stats.Nodes, &stats.ActiveNodes); err != nil {
		return model.Stats{}, fmt.Errorf("count nodes: %w", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM failed_logs`).Scan(&stats.FailedLogs); err != nil {
		return model.Stats{}, fmt.Errorf("count failed logs: %w", err)
	}
	return stats, nil
}

func scanNode(row pgx.Row) (model.Node, error) {
	var (
		node             model.Node
		nodeType, tier   *int16
		status           string
		uptime, downtime int64
		updatedBlock     int64
	)
	if err := row.Scan(
		&node.NodeID,
		&nodeType,
		&tier,
		&node.Operator,
		&status,
		&node.StakedAmount,
		&node.PurchasePrice,
		&node.TotalRevenue,
		&uptime,
		&downtime,
		&node.LastHealthCheck,
		&node.RegisteredAt,
		&node.ActivatedAt,
		&updatedBlock,
	); err != nil {
		return model.Node{}, err
	}
	node.NodeType = fromSmallint(nodeType)
	node.Tier = fromSmallint(tier)
	node.Status = model.NodeStatus(status)
	node.UptimeSeconds = uint64(uptime)
	node.DowntimeSeconds = uint64(downtime)
	node.UpdatedBlock = uint64(updatedBlock)
	return node, nil
}

func smallint(v *uint8) *int16 {
	if v == nil {
		return nil
	}
	out := int16(*v)
	return &out
}

func fromSmallint(v *int16) *uint8 {
	if v == nil {
		return nil
	}
	out := uint8(*v)
	return &out
}
