package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/domain"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	SessionID string    `bson:"session_id"`
	ItemID    string    `bson:"item_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action, sessionID, itemID string, data bson.M) error {
	entry := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		SessionID: sessionID,
		ItemID:    itemID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	if _, err := a.coll.InsertOne(ctx, entry); err != nil {
		a.logger.WithError(err).WithField("action", action).Error("failed to insert audit log")
		return err
	}
	return nil
}

func (a *AuditLogger) LogBooking(ctx context.Context, b domain.Booking) error {
	items := make([]bson.M, 0, len(b.Items))
	for _, it := range b.Items {
		items = append(items, bson.M{
			"tier":           it.Tier,
			"quantity":       it.Quantity,
			"price_per_unit": it.PricePerUnit,
			"subtotal":       it.Subtotal,
		})
	}
	return a.LogEvent(ctx, "booking.confirmed", b.SessionID, b.ItemID, bson.M{
		"booking_id": b.ID.String(),
		"status":     string(b.Status),
		"total":      b.TotalAmount,
		"items":      items,
	})
}

func (a *AuditLogger) LogPaymentDeclined(ctx context.Context, sessionID, itemID string, amount float64) error {
	return a.LogEvent(ctx, "payment.declined", sessionID, itemID, bson.M{"amount": amount})
}
