package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"directory-service/internal/client"
	"directory-service/internal/model"
	"directory-service/internal/util"
)

const sinkTimeout = 3 * time.Second

// Auditor fans audit events out to Kafka and ClickHouse. Either backend
// may be nil when disabled. Recording never fails the caller; a sink
// error is logged and the event is dropped from that sink only.
type Auditor struct {
	producer   *client.KafkaProducer
	clickhouse *client.ClickHouseClient
}

func NewAuditor(producer *client.KafkaProducer, clickhouse *client.ClickHouseClient) *Auditor {
	return &Auditor{
		producer:   producer,
		clickhouse: clickhouse,
	}
}

func (a *Auditor) Record(ctx context.Context, event model.Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	util.Info("Audit event",
		zap.String("event_type", string(event.Type)),
		zap.String("student_id", event.StudentID),
		zap.String("detail", event.Detail))

	// Detach from the request context so a finished request does not
	// cancel the write.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	if a.producer != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			util.Error("Failed to encode audit event", zap.Error(err))
		} else if err := a.producer.Publish(ctx, []byte(event.StudentID), payload); err != nil {
			util.Error("Failed to publish audit event",
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
	}

	if a.clickhouse != nil {
		err := a.clickhouse.InsertAuditEvent(ctx, string(event.Type), event.StudentID, event.Email, event.Detail, event.At)
		if err != nil {
			util.Error("Failed to store audit event",
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
	}
}
