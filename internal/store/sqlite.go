package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"tradecore/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

const signalSchema = `
CREATE TABLE IF NOT EXISTS signals (
	id                TEXT PRIMARY KEY,
	symbol            TEXT NOT NULL,
	timestamp         INTEGER NOT NULL,
	type              TEXT NOT NULL,
	direction         TEXT NOT NULL,
	price             REAL NOT NULL,
	quantity          INTEGER NOT NULL,
	stop_loss         REAL NOT NULL,
	take_profit       REAL NOT NULL,
	confluence_score  REAL NOT NULL,
	reason_codes      TEXT NOT NULL,
	risk_reward_ratio REAL NOT NULL,
	max_risk          REAL NOT NULL,
	order_id          TEXT NOT NULL DEFAULT '',
	executed_at       INTEGER NOT NULL DEFAULT 0,
	executed_price    REAL NOT NULL DEFAULT 0,
	executed_quantity INTEGER NOT NULL DEFAULT 0,
	outcome           TEXT NOT NULL DEFAULT 'OPEN',
	pnl               REAL NOT NULL DEFAULT 0,
	exit_reason       TEXT NOT NULL DEFAULT '',
	closed_at         INTEGER NOT NULL DEFAULT 0,
	mode              TEXT NOT NULL,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals (symbol, timestamp);
CREATE INDEX IF NOT EXISTS idx_signals_outcome ON signals (outcome);
`

// SQLiteLedger records the full signal lifecycle in a SQLite database.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens (or creates) a SQLite database at dbPath and runs
// the schema migration.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	if _, err := db.Exec(signalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating signal schema: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

// Close closes the underlying database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// LogSignal inserts a freshly generated signal.
func (l *SQLiteLedger) LogSignal(ctx context.Context, sig *domain.Signal) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO signals (
			id, symbol, timestamp, type, direction, price, quantity,
			stop_loss, take_profit, confluence_score, reason_codes,
			risk_reward_ratio, max_risk, mode, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.Symbol, sig.Timestamp.UnixMilli(), string(sig.Type),
		string(sig.Direction), sig.Price, sig.Quantity,
		sig.StopLoss, sig.TakeProfit, sig.ConfluenceScore,
		strings.Join(sig.ReasonCodes, ","),
		sig.RiskRewardRatio, sig.MaxRisk, string(sig.Mode),
		sig.CreatedAt.UnixMilli(), sig.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting signal %s: %w", sig.ID, err)
	}
	return nil
}

// UpdateSignalExecution records the fill details for an executed signal.
func (l *SQLiteLedger) UpdateSignalExecution(ctx context.Context, sig *domain.Signal) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE signals SET
			order_id = ?, executed_at = ?, executed_price = ?,
			executed_quantity = ?, updated_at = ?
		WHERE id = ?`,
		sig.OrderID, sig.ExecutedAt.UnixMilli(), sig.ExecutedPrice,
		sig.ExecutedQuantity, time.Now().UnixMilli(), sig.ID,
	)
	if err != nil {
		return fmt.Errorf("updating execution for %s: %w", sig.ID, err)
	}
	return requireRow(res, sig.ID)
}

// UpdateSignalOutcome records the terminal outcome of a closed signal.
func (l *SQLiteLedger) UpdateSignalOutcome(ctx context.Context, sig *domain.Signal) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE signals SET
			outcome = ?, pnl = ?, exit_reason = ?, closed_at = ?, updated_at = ?
		WHERE id = ?`,
		string(sig.Outcome), sig.PnL, sig.ExitReason,
		sig.ClosedAt.UnixMilli(), time.Now().UnixMilli(), sig.ID,
	)
	if err != nil {
		return fmt.Errorf("updating outcome for %s: %w", sig.ID, err)
	}
	return requireRow(res, sig.ID)
}

// ListSignals returns signals for a symbol ordered by timestamp descending,
// up to limit. An empty symbol matches all symbols.
func (l *SQLiteLedger) ListSignals(ctx context.Context, symbol string, limit int) ([]domain.Signal, error) {
	query := `
		SELECT id, symbol, timestamp, type, direction, price, quantity,
			stop_loss, take_profit, confluence_score, reason_codes,
			risk_reward_ratio, max_risk, order_id, executed_at,
			executed_price, executed_quantity, outcome, pnl, exit_reason,
			closed_at, mode, created_at, updated_at
		FROM signals`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing signals: %w", err)
	}
	defer rows.Close()

	var signals []domain.Signal
	for rows.Next() {
		var (
			sig         domain.Signal
			ts          int64
			sigType     string
			direction   string
			reasonCodes string
			executedAt  int64
			outcome     string
			closedAt    int64
			mode        string
			createdAt   int64
			updatedAt   int64
		)
		if err := rows.Scan(
			&sig.ID, &sig.Symbol, &ts, &sigType, &direction, &sig.Price,
			&sig.Quantity, &sig.StopLoss, &sig.TakeProfit,
			&sig.ConfluenceScore, &reasonCodes, &sig.RiskRewardRatio,
			&sig.MaxRisk, &sig.OrderID, &executedAt, &sig.ExecutedPrice,
			&sig.ExecutedQuantity, &outcome, &sig.PnL, &sig.ExitReason,
			&closedAt, &mode, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning signal row: %w", err)
		}
		sig.Timestamp = time.UnixMilli(ts).UTC()
		sig.Type = domain.SignalType(sigType)
		sig.Direction = domain.Direction(direction)
		if reasonCodes != "" {
			sig.ReasonCodes = strings.Split(reasonCodes, ",")
		}
		if executedAt != 0 {
			sig.ExecutedAt = time.UnixMilli(executedAt).UTC()
		}
		sig.Outcome = domain.Outcome(outcome)
		if closedAt != 0 {
			sig.ClosedAt = time.UnixMilli(closedAt).UTC()
		}
		sig.Mode = domain.Mode(mode)
		sig.CreatedAt = time.UnixMilli(createdAt).UTC()
		sig.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("signal %s not found", id)
	}
	return nil
}
