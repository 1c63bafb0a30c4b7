package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ngoplatform/donations-api/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderLedger persists orders, their line items and gateway transactions
type OrderLedger struct {
	db          *gorm.DB
	prefix      string
	maxAttempts int
	loc         *time.Location
	now         func() time.Time

	// numberAssigned runs between deriving a number and inserting it
	numberAssigned func(number string)
}

// NewOrderLedger creates an order ledger. Order numbers are dated in loc.
func NewOrderLedger(db *gorm.DB, prefix string, maxAttempts int, loc *time.Location) *OrderLedger {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if loc == nil {
		loc = time.UTC
	}
	return &OrderLedger{db: db, prefix: prefix, maxAttempts: maxAttempts, loc: loc, now: time.Now}
}

func (l *OrderLedger) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		tx = l.db
	}
	return tx.WithContext(ctx)
}

// NextOrderNumber derives <prefix><yyyymmdd><seq> where seq follows the highest
// number already issued on day.
func (l *OrderLedger) NextOrderNumber(ctx context.Context, tx *gorm.DB, day time.Time) (string, error) {
	datePrefix := l.prefix + day.In(l.loc).Format("20060102")

	var latest models.Order
	err := l.conn(ctx, tx).Select("order_number").
		Where("order_number LIKE ?", datePrefix+"%").
		Order("LENGTH(order_number) DESC, order_number DESC").
		Take(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Sprintf("%s%03d", datePrefix, 1), nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read today's latest order number: %w", err)
	}

	seq, err := strconv.Atoi(strings.TrimPrefix(latest.OrderNumber, datePrefix))
	if err != nil {
		return "", fmt.Errorf("malformed order number %q: %w", latest.OrderNumber, err)
	}
	return fmt.Sprintf("%s%03d", datePrefix, seq+1), nil
}

// CreatePending inserts a pending order, its line items and a pending gateway
// transaction in one transaction. A colliding order number is regenerated and the
// insert retried, up to the configured number of attempts.
func (l *OrderLedger) CreatePending(ctx context.Context, order *models.Order, lines []models.OrderLineItem) (*models.Order, error) {
	var lastErr error
	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		created, err := l.insertPending(ctx, order, lines)
		if err == nil {
			return created, nil
		}
		if !isUniqueViolation(err) {
			return nil, &OrderPersistenceError{Op: "create pending order", Err: err}
		}
		lastErr = err
	}
	return nil, &OrderPersistenceError{
		Op:  "create pending order",
		Err: fmt.Errorf("order number still colliding after %d attempts: %w", l.maxAttempts, lastErr),
	}
}

func (l *OrderLedger) insertPending(ctx context.Context, order *models.Order, lines []models.OrderLineItem) (*models.Order, error) {
	o := *order
	o.ID = 0
	o.PaymentStatus = models.PaymentStatusPending
	o.LineItems = make([]models.OrderLineItem, len(lines))
	for i, line := range lines {
		line.ID = 0
		line.OrderID = 0
		o.LineItems[i] = line
	}

	number, err := l.NextOrderNumber(ctx, nil, l.now())
	if err != nil {
		return nil, err
	}
	o.OrderNumber = number
	if l.numberAssigned != nil {
		l.numberAssigned(number)
	}

	err = l.conn(ctx, nil).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&o).Error; err != nil {
			return err
		}

		gateway := models.GatewayTransaction{
			OrderID:         o.ID,
			MerchantTradeNo: o.OrderNumber,
			Status:          models.GatewayStatusPending,
		}
		return tx.Create(&gateway).Error
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// FindByNumber loads an order and its line items
func (l *OrderLedger) FindByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := l.conn(ctx, nil).Preload("LineItems").
		Where("order_number = ?", orderNumber).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to load order %s: %w", orderNumber, err)
	}
	return &order, nil
}

// LockByNumber loads an order for update inside tx
func (l *OrderLedger) LockByNumber(ctx context.Context, tx *gorm.DB, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_number = ?", orderNumber).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to lock order %s: %w", orderNumber, err)
	}

	if err := tx.WithContext(ctx).Where("order_id = ?", order.ID).Order("id ASC").Find(&order.LineItems).Error; err != nil {
		return nil, fmt.Errorf("failed to load line items for %s: %w", orderNumber, err)
	}
	return &order, nil
}

// FindGatewayTransaction loads the gateway transaction for an order
func (l *OrderLedger) FindGatewayTransaction(ctx context.Context, tx *gorm.DB, orderID uint) (*models.GatewayTransaction, error) {
	return l.gatewayTransaction(l.conn(ctx, tx), orderID)
}

// LockGatewayTransaction loads the gateway transaction for update inside tx
func (l *OrderLedger) LockGatewayTransaction(ctx context.Context, tx *gorm.DB, orderID uint) (*models.GatewayTransaction, error) {
	return l.gatewayTransaction(tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), orderID)
}

func (l *OrderLedger) gatewayTransaction(db *gorm.DB, orderID uint) (*models.GatewayTransaction, error) {
	var gateway models.GatewayTransaction
	if err := db.Where("order_id = ?", orderID).First(&gateway).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to load gateway transaction for order %d: %w", orderID, err)
	}
	return &gateway, nil
}

// SaveStatus writes the order's settlement columns
func (l *OrderLedger) SaveStatus(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	err := l.conn(ctx, tx).Model(order).
		Select("payment_status", "failure_reason", "reconciliation_note", "paid_at", "updated_at").
		Updates(order).Error
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", order.OrderNumber, err)
	}
	return nil
}

// SaveGatewayTransaction writes the gateway transaction's mutable columns
func (l *OrderLedger) SaveGatewayTransaction(ctx context.Context, tx *gorm.DB, gateway *models.GatewayTransaction) error {
	err := l.conn(ctx, tx).Model(gateway).
		Select("gateway_trade_no", "status", "return_code", "return_message", "response_data", "processed_at", "updated_at").
		Updates(gateway).Error
	if err != nil {
		return fmt.Errorf("failed to update gateway transaction %s: %w", gateway.MerchantTradeNo, err)
	}
	return nil
}

// ListByDonor returns a donor's orders, newest first
func (l *OrderLedger) ListByDonor(ctx context.Context, donorID uint, limit int) ([]models.Order, error) {
	query := l.conn(ctx, nil).Preload("LineItems").
		Where("donor_id = ?", donorID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var orders []models.Order
	if err := query.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders for donor %d: %w", donorID, err)
	}
	return orders, nil
}

// EmergencyRecordsFor returns the emergency purchase records of the given orders keyed by order id
func (l *OrderLedger) EmergencyRecordsFor(ctx context.Context, orderIDs []uint) (map[uint]models.EmergencyPurchaseRecord, error) {
	records := make(map[uint]models.EmergencyPurchaseRecord, len(orderIDs))
	if len(orderIDs) == 0 {
		return records, nil
	}

	var rows []models.EmergencyPurchaseRecord
	if err := l.conn(ctx, nil).Where("order_id IN ?", orderIDs).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load emergency purchase records: %w", err)
	}
	for _, r := range rows {
		records[r.OrderID] = r
	}
	return records, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}
