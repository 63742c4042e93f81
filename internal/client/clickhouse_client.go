package client

import (
	"context"
	"fmt"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"directory-service/internal/config"
	"directory-service/internal/util"
)

// ClickHouseClient writes audit events into a columnar table for analytics.
type ClickHouseClient struct {
	conn   driver.Conn
	config *config.ClickhouseConfig
}

const auditTableDDL = `
CREATE TABLE IF NOT EXISTS audit_events (
    event_type  LowCardinality(String),
    student_id  String,
    email       String,
    detail      String,
    occurred_at DateTime64(3, 'UTC')
) ENGINE = MergeTree()
ORDER BY (event_type, occurred_at)
TTL toDateTime(occurred_at) + INTERVAL 180 DAY`

func NewClickHouseClient(cfg *config.Config, logger *zap.Logger) (*ClickHouseClient, error) {
	chConfig := cfg.Clickhouse

	conn, err := ch.Open(&ch.Options{
		Addr: []string{chConfig.URL},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    20,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	if err := conn.Exec(ctx, auditTableDDL); err != nil {
		return nil, fmt.Errorf("failed to create audit table: %w", err)
	}

	util.Info("ClickHouse client initialized",
		zap.String("database", chConfig.Database))

	return &ClickHouseClient{
		conn:   conn,
		config: &chConfig,
	}, nil
}

// InsertAuditEvent appends one row. Async insert keeps the hot path cheap.
func (c *ClickHouseClient) InsertAuditEvent(ctx context.Context, eventType, studentID, email, detail string, occurredAt time.Time) error {
	return c.conn.AsyncInsert(ctx,
		`INSERT INTO audit_events (event_type, student_id, email, detail, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		false,
		eventType, studentID, email, detail, occurredAt.UTC(),
	)
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	if err := c.conn.Ping(ctx); err != nil {
		return fmt.Errorf("clickhouse ping failed: %w", err)
	}
	return nil
}

func (c *ClickHouseClient) Close() error {
	return c.conn.Close()
}
