package clickhouse

import (
	"context"
	"fmt"
	"time"

	"daytrade-core/internal/domain"
)

// DecisionRecord is one admission decision as audited.
type DecisionRecord struct {
	DecidedAt  time.Time
	Strategy   string
	Symbol     string
	Action     string
	Confidence float64
	IsDayTrade bool
	Approved   bool
	Reason     string
}

// RecordFromApproval builds an audit row from a decision.
func RecordFromApproval(a domain.TradeApproval, decidedAt time.Time) DecisionRecord {
	return DecisionRecord{
		DecidedAt:  decidedAt,
		Strategy:   a.Request.Signal.Strategy,
		Symbol:     a.Request.Signal.Symbol,
		Action:     string(a.Request.Signal.Action),
		Confidence: a.Request.Signal.Confidence,
		IsDayTrade: a.Request.IsDayTrade,
		Approved:   a.Approved,
		Reason:     a.Reason,
	}
}

// DecisionAuditStore appends admission decisions to ClickHouse.
type DecisionAuditStore struct {
	conn *Conn
}

// NewDecisionAuditStore creates a DecisionAuditStore.
func NewDecisionAuditStore(conn *Conn) *DecisionAuditStore {
	return &DecisionAuditStore{conn: conn}
}

// Insert appends one decision.
func (s *DecisionAuditStore) Insert(ctx context.Context, r DecisionRecord) error {
	query := `
		INSERT INTO decision_audit (
			decided_at, strategy, symbol, action, confidence,
			is_day_trade, approved, reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := s.conn.Exec(ctx, query,
		r.DecidedAt, r.Strategy, r.Symbol, r.Action, r.Confidence,
		r.IsDayTrade, r.Approved, r.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert decision audit: %w", err)
	}
	return nil
}

// GetByStrategy retrieves decisions for one strategy, newest first.
func (s *DecisionAuditStore) GetByStrategy(ctx context.Context, strategy string, limit int) ([]DecisionRecord, error) {
	query := `
		SELECT decided_at, strategy, symbol, action, confidence,
		       is_day_trade, approved, reason
		FROM decision_audit
		WHERE strategy = ?
		ORDER BY decided_at DESC
		LIMIT ?
	`
	rows, err := s.conn.Query(ctx, query, strategy, limit)
	if err != nil {
		return nil, fmt.Errorf("get decisions by strategy: %w", err)
	}
	defer rows.Close()

	var records []DecisionRecord
	for rows.Next() {
		var r DecisionRecord
		if err := rows.Scan(
			&r.DecidedAt, &r.Strategy, &r.Symbol, &r.Action, &r.Confidence,
			&r.IsDayTrade, &r.Approved, &r.Reason,
		); err != nil {
			return nil, fmt.Errorf("scan decision row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision rows: %w", err)
	}
	return records, nil
}
