package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ngoplatform/donations-api/logging"
	"github.com/ngoplatform/donations-api/models"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	tracerName         = "github.com/ngoplatform/donations-api/services"
	defaultHookTimeout = 10 * time.Second
)

// Failure reasons stored on orders
const (
	ReasonPaymentFailed          = "payment_failed"
	ReasonEmergencyNeedSaturated = "emergency_need_saturated"
	ReasonEmergencyNeedNotFound  = "emergency_need_not_found"
	ReasonSupplyNotFound         = "supply_not_found"
	ReasonFinalizeError          = "finalize_error"
)

// PurchaseSelector identifies what a donor wants to buy. Exactly one target is set.
type PurchaseSelector struct {
	SupplyID        *uint  `json:"supply_id"`
	PackageType     string `json:"package_type"`
	EmergencyNeedID *uint  `json:"emergency_need_id"`
	Quantity        int    `json:"quantity"`
}

// QuoteLine is one priced line of a quote
type QuoteLine struct {
	SupplyID   *uint           `json:"supply_id,omitempty"`
	SupplyName string          `json:"supply_name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

// PriceQuote is a validated, priced purchase intent
type PriceQuote struct {
	Source          string          `json:"source"`
	PackageType     string          `json:"package_type,omitempty"`
	EmergencyNeedID *uint           `json:"emergency_need_id,omitempty"`
	Lines           []QuoteLine     `json:"lines"`
	Total           decimal.Decimal `json:"total"`
}

// CheckoutResult is what a donor needs to continue to the gateway
type CheckoutResult struct {
	Quote *PriceQuote
	Order *models.Order
	Form  *SignedForm
}

// FinalizeResult describes the outcome of settling an order
type FinalizeResult struct {
	Order             *models.Order
	Replayed          bool
	Partial           *PartialPackageResolutionError
	NeedReachedTarget bool
}

// Outcome is a short label for logs and metrics
func (r *FinalizeResult) Outcome() string {
	switch {
	case r.Replayed:
		return "replayed"
	case r.Order.PaymentStatus == models.PaymentStatusPaid && r.Partial != nil:
		return "paid_partial"
	case r.Order.PaymentStatus == models.PaymentStatusPaid:
		return "paid"
	default:
		return "failed"
	}
}

// DonorPurchase is an order in a donor's purchase history
type DonorPurchase struct {
	Order           models.Order                    `json:"order"`
	EmergencyRecord *models.EmergencyPurchaseRecord `json:"emergency_record,omitempty"`
}

// CheckoutService turns purchase intents into orders and settles them from gateway callbacks
type CheckoutService struct {
	db           *gorm.DB
	inventory    *InventoryLedger
	needs        *EmergencyNeedTracker
	catalog      *PackageCatalog
	orders       *OrderLedger
	gateway      *EcpayGateway
	achievements AchievementHook
	metrics      *CheckoutMetrics
	logger       *zap.Logger
	tracer       trace.Tracer
	now          func() time.Time
	hookTimeout  time.Duration
	hooks        sync.WaitGroup
}

// CheckoutOption customizes a CheckoutService
type CheckoutOption func(*CheckoutService)

// WithAchievementHook sets the hook notified after paid donor orders
func WithAchievementHook(hook AchievementHook) CheckoutOption {
	return func(s *CheckoutService) {
		if hook != nil {
			s.achievements = hook
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *CheckoutMetrics) CheckoutOption {
	return func(s *CheckoutService) { s.metrics = m }
}

// WithLogger sets the fallback logger used when the context carries none
func WithLogger(logger *zap.Logger) CheckoutOption {
	return func(s *CheckoutService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer sets the tracer used for checkout spans
func WithTracer(tracer trace.Tracer) CheckoutOption {
	return func(s *CheckoutService) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) CheckoutOption {
	return func(s *CheckoutService) {
		s.now = now
		s.needs.now = now
		s.orders.now = now
		if s.gateway != nil {
			s.gateway.now = now
		}
	}
}

// NewCheckoutService wires the checkout pipeline
func NewCheckoutService(db *gorm.DB, catalog *PackageCatalog, orders *OrderLedger, gateway *EcpayGateway, opts ...CheckoutOption) *CheckoutService {
	s := &CheckoutService{
		db:           db,
		inventory:    NewInventoryLedger(db),
		needs:        NewEmergencyNeedTracker(db),
		catalog:      catalog,
		orders:       orders,
		gateway:      gateway,
		achievements: NoopAchievementHook(),
		logger:       zap.NewNop(),
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
		hookTimeout:  defaultHookTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var checkoutServiceInstance *CheckoutService

// InitCheckoutService sets the process-wide checkout service
func InitCheckoutService(s *CheckoutService) *CheckoutService {
	checkoutServiceInstance = s
	return s
}

// GetCheckoutService returns the process-wide checkout service
func GetCheckoutService() *CheckoutService {
	return checkoutServiceInstance
}

// SetCheckoutService replaces the process-wide checkout service (primarily for testing)
func SetCheckoutService(s *CheckoutService) {
	checkoutServiceInstance = s
}

// Inventory exposes the supply ledger for read endpoints
func (s *CheckoutService) Inventory() *InventoryLedger { return s.inventory }

// Needs exposes the emergency need tracker for read endpoints
func (s *CheckoutService) Needs() *EmergencyNeedTracker { return s.needs }

// Catalog exposes the package catalog
func (s *CheckoutService) Catalog() *PackageCatalog { return s.catalog }

func (s *CheckoutService) log(ctx context.Context) *zap.Logger {
	return logging.FromContextOr(ctx, s.logger)
}

// Quote validates a selector against the catalog, inventory and need tracker
func (s *CheckoutService) Quote(ctx context.Context, sel PurchaseSelector) (*PriceQuote, error) {
	targets := 0
	if sel.SupplyID != nil {
		targets++
	}
	if sel.PackageType != "" {
		targets++
	}
	if sel.EmergencyNeedID != nil {
		targets++
	}
	if targets != 1 {
		return nil, newValidation("selector", "exactly one of supply_id, package_type or emergency_need_id is required")
	}

	switch {
	case sel.SupplyID != nil:
		return s.quoteSupply(ctx, *sel.SupplyID, sel.Quantity)
	case sel.EmergencyNeedID != nil:
		return s.quoteEmergency(ctx, *sel.EmergencyNeedID, sel.Quantity)
	default:
		return s.quotePackage(sel.PackageType, sel.Quantity)
	}
}

func (s *CheckoutService) quoteSupply(ctx context.Context, supplyID uint, quantity int) (*PriceQuote, error) {
	if quantity <= 0 {
		return nil, newValidation("quantity", "must be greater than zero")
	}

	supply, err := s.inventory.Get(ctx, supplyID)
	if err != nil {
		return nil, err
	}
	if quantity > supply.OnHand {
		return nil, &InsufficientStockError{SupplyID: supply.ID, Requested: quantity, Available: supply.OnHand}
	}

	id := supply.ID
	line := QuoteLine{SupplyID: &id, SupplyName: supply.Name, Quantity: quantity, UnitPrice: supply.UnitPrice}
	return &PriceQuote{
		Source: models.OrderSourceRegular,
		Lines:  []QuoteLine{line},
		Total:  supply.UnitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}, nil
}

func (s *CheckoutService) quoteEmergency(ctx context.Context, needID uint, quantity int) (*PriceQuote, error) {
	if quantity <= 0 {
		return nil, newValidation("quantity", "must be greater than zero")
	}

	need, err := s.needs.Get(ctx, needID)
	if err != nil {
		return nil, err
	}
	if !need.IsOpen() || quantity > need.Remaining() {
		return nil, &EmergencyNeedSaturatedError{NeedID: need.ID, Requested: quantity, Remaining: openRemaining(need)}
	}

	id := need.ID
	return &PriceQuote{
		Source:          models.OrderSourceEmergency,
		EmergencyNeedID: &id,
		Lines:           []QuoteLine{{SupplyName: need.SupplyName, Quantity: quantity, UnitPrice: need.UnitPrice}},
		Total:           need.UnitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}, nil
}

func (s *CheckoutService) quotePackage(packageType string, quantity int) (*PriceQuote, error) {
	if quantity != 0 && quantity != 1 {
		return nil, newValidation("quantity", "packages are sold one at a time")
	}

	def, err := s.catalog.Get(packageType)
	if err != nil {
		return nil, newValidation("package_type", fmt.Sprintf("unknown package %q", packageType))
	}

	lines := make([]QuoteLine, 0, len(def.Items))
	for _, item := range def.Items {
		id := item.SupplyID
		lines = append(lines, QuoteLine{SupplyID: &id, SupplyName: item.SupplyName, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	return &PriceQuote{
		Source:      models.OrderSourcePackage,
		PackageType: def.Type,
		Lines:       lines,
		Total:       def.Price,
	}, nil
}

// CreatePendingOrder persists a quote as a pending order with its gateway transaction
func (s *CheckoutService) CreatePendingOrder(ctx context.Context, quote *PriceQuote, donor *DonorIdentity) (*models.Order, error) {
	if quote == nil || len(quote.Lines) == 0 {
		return nil, newValidation("quote", "is required")
	}

	order := &models.Order{
		TotalPrice:      quote.Total,
		Source:          quote.Source,
		EmergencyNeedID: quote.EmergencyNeedID,
	}
	if quote.PackageType != "" {
		pt := quote.PackageType
		order.PackageType = &pt
	}
	if donor != nil {
		id := donor.DonorID
		order.DonorID = &id
	}

	lines := make([]models.OrderLineItem, 0, len(quote.Lines))
	for _, l := range quote.Lines {
		lines = append(lines, models.OrderLineItem{
			SupplyID:   l.SupplyID,
			SupplyName: l.SupplyName,
			Quantity:   l.Quantity,
			UnitPrice:  l.UnitPrice,
		})
	}

	created, err := s.orders.CreatePending(ctx, order, lines)
	if err != nil {
		return nil, err
	}
	s.metrics.orderCreated(created.Source)
	s.log(ctx).Info("order_created",
		zap.String("order_number", created.OrderNumber),
		zap.String("source", created.Source),
		zap.String("total", created.TotalPrice.String()),
	)
	return created, nil
}

// StartPayment signs the gateway request and marks the gateway transaction processing
func (s *CheckoutService) StartPayment(ctx context.Context, order *models.Order, urls CheckoutURLs) (*SignedForm, error) {
	form, err := s.gateway.BuildCheckoutRequest(order, urls)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		gw, err := s.orders.LockGatewayTransaction(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if err := gw.MarkProcessing(); err != nil {
			return fmt.Errorf("gateway transaction %s is %s: %w", gw.MerchantTradeNo, gw.Status, err)
		}
		return s.orders.SaveGatewayTransaction(ctx, tx, gw)
	})
	if err != nil {
		return nil, &OrderPersistenceError{Op: "start payment", Err: err}
	}
	return form, nil
}

// Checkout quotes, persists and signs a purchase in one call
func (s *CheckoutService) Checkout(ctx context.Context, sel PurchaseSelector, donor *DonorIdentity, urls CheckoutURLs) (_ *CheckoutResult, err error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Checkout")
	defer func() { endSpan(span, err) }()

	quote, err := s.Quote(ctx, sel)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.source", quote.Source))

	order, err := s.CreatePendingOrder(ctx, quote, donor)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.number", order.OrderNumber))

	form, err := s.StartPayment(ctx, order, urls)
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{Quote: quote, Order: order, Form: form}, nil
}

// Finalize settles an order once the gateway reported the payment outcome.
// A terminal order is returned untouched with Replayed set.
func (s *CheckoutService) Finalize(ctx context.Context, orderNumber string, succeeded bool, cb *CallbackResult) (_ *FinalizeResult, err error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Finalize", trace.WithAttributes(
		attribute.String("order.number", orderNumber),
		attribute.Bool("gateway.succeeded", succeeded),
	))
	defer func() { endSpan(span, err) }()

	started := time.Now()
	logger := s.log(ctx).With(zap.String("order_number", orderNumber))

	var result *FinalizeResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orders.LockByNumber(ctx, tx, orderNumber)
		if err != nil {
			return err
		}
		gw, err := s.orders.LockGatewayTransaction(ctx, tx, order.ID)
		if err != nil {
			return err
		}

		if order.IsSettled() {
			result = &FinalizeResult{Order: order, Replayed: true}
			return nil
		}

		now := s.now()
		recordCallback(gw, cb)
		if !gw.IsTerminal() {
			if err := gw.Settle(succeeded, now); err != nil {
				return err
			}
		}

		result = &FinalizeResult{Order: order}
		if !succeeded {
			if err := order.MarkFailed(paymentFailureReason(cb)); err != nil {
				return err
			}
		} else {
			var applied mutationOutcome
			mutErr := tx.Transaction(func(inner *gorm.DB) error {
				var err error
				applied, err = s.applyMutations(ctx, inner, order)
				return err
			})

			if reason, rejected := businessRejection(mutErr); rejected {
				logger.Warn("order_rejected_after_payment", zap.String("reason", reason), zap.Error(mutErr))
				if err := order.MarkFailed(reason); err != nil {
					return err
				}
			} else if mutErr != nil {
				return mutErr
			} else {
				if err := order.MarkPaid(now); err != nil {
					return err
				}
				if applied.partial != nil {
					note := applied.partial.Error()
					order.ReconciliationNote = &note
					result.Partial = applied.partial
				}
				result.NeedReachedTarget = applied.reachedTarget
			}
		}

		if err := s.orders.SaveGatewayTransaction(ctx, tx, gw); err != nil {
			return err
		}
		return s.orders.SaveStatus(ctx, tx, order)
	})

	if txErr != nil {
		if errors.Is(txErr, ErrOrderNotFound) {
			return nil, txErr
		}
		logger.Error("finalize_failed", zap.Error(txErr))
		s.markFailedAfterError(ctx, orderNumber)
		s.metrics.finalized("unknown", "error", started)
		return nil, &OrderPersistenceError{Op: "finalize order", Err: txErr}
	}

	s.metrics.finalized(result.Order.Source, result.Outcome(), started)
	fields := []zap.Field{
		zap.String("outcome", result.Outcome()),
		zap.String("source", result.Order.Source),
		zap.String("payment_status", result.Order.PaymentStatus),
	}
	if result.Partial != nil {
		fields = append(fields, zap.Uints("missing_supplies", result.Partial.MissingSupplies))
	}
	if result.NeedReachedTarget {
		fields = append(fields, zap.Bool("need_reached_target", true))
	}
	logger.Info("order_finalized", fields...)

	if !result.Replayed && result.Order.PaymentStatus == models.PaymentStatusPaid && result.Order.DonorID != nil {
		s.notifyAchievements(ctx, *result.Order.DonorID, result.Order.OrderNumber)
	}
	return result, nil
}

type mutationOutcome struct {
	partial       *PartialPackageResolutionError
	reachedTarget bool
}

// applyMutations credits inventory or need progress for a paid order
func (s *CheckoutService) applyMutations(ctx context.Context, tx *gorm.DB, order *models.Order) (mutationOutcome, error) {
	var out mutationOutcome

	switch order.Source {
	case models.OrderSourceRegular:
		for _, line := range order.LineItems {
			if line.SupplyID == nil {
				return out, ErrSupplyNotFound
			}
			if err := s.inventory.Increase(ctx, tx, *line.SupplyID, line.Quantity); err != nil {
				return out, err
			}
		}

	case models.OrderSourcePackage:
		var missing []uint
		for _, line := range order.LineItems {
			if line.SupplyID == nil {
				continue
			}
			err := s.inventory.Increase(ctx, tx, *line.SupplyID, line.Quantity)
			if errors.Is(err, ErrSupplyNotFound) {
				missing = append(missing, *line.SupplyID)
				continue
			}
			if err != nil {
				return out, err
			}
		}
		if len(missing) > 0 {
			pt := ""
			if order.PackageType != nil {
				pt = *order.PackageType
			}
			out.partial = &PartialPackageResolutionError{PackageType: pt, MissingSupplies: missing}
		}

	case models.OrderSourceEmergency:
		if order.EmergencyNeedID == nil || len(order.LineItems) == 0 {
			return out, ErrEmergencyNeedNotFound
		}
		line := order.LineItems[0]
		progress, err := s.needs.ReserveProgress(ctx, tx, *order.EmergencyNeedID, line.Quantity)
		if err != nil {
			return out, err
		}
		out.reachedTarget = progress.ReachedTarget

		record := models.EmergencyPurchaseRecord{
			OrderID:         order.ID,
			EmergencyNeedID: progress.Need.ID,
			SupplyName:      progress.Need.SupplyName,
			Quantity:        line.Quantity,
			UnitPrice:       line.UnitPrice,
		}
		if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
			return out, fmt.Errorf("failed to record emergency purchase: %w", err)
		}

	default:
		return out, fmt.Errorf("unknown order source %q", order.Source)
	}
	return out, nil
}

// markFailedAfterError fails a still-pending order after its finalize transaction rolled back
func (s *CheckoutService) markFailedAfterError(ctx context.Context, orderNumber string) {
	ctx = context.WithoutCancel(ctx)
	err := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("order_number = ? AND payment_status = ?", orderNumber, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"payment_status": models.PaymentStatusFailed,
			"failure_reason": ReasonFinalizeError,
		}).Error
	if err != nil {
		s.log(ctx).Error("mark_failed_after_error", zap.String("order_number", orderNumber), zap.Error(err))
	}
}

func (s *CheckoutService) notifyAchievements(ctx context.Context, donorID uint, orderNumber string) {
	logger := s.log(ctx)
	hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.hookTimeout)

	s.hooks.Add(1)
	go func() {
		defer s.hooks.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("achievement_hook_panic", zap.String("order_number", orderNumber), zap.Any("panic", r))
			}
		}()

		if err := s.achievements.OnPurchaseCompleted(hookCtx, donorID, orderNumber); err != nil {
			logger.Warn("achievement_hook_failed", zap.String("order_number", orderNumber), zap.Error(err))
		}
	}()
}

// WaitForHooks blocks until in-flight achievement hooks return
func (s *CheckoutService) WaitForHooks() {
	s.hooks.Wait()
}

// HandleCallback verifies a gateway notification and finalizes the order it names
func (s *CheckoutService) HandleCallback(ctx context.Context, params map[string]string) (_ *FinalizeResult, err error) {
	ctx, span := s.tracer.Start(ctx, "checkout.HandleCallback")
	defer func() { endSpan(span, err) }()

	cb, err := s.gateway.VerifyCallback(params)
	if err != nil {
		s.metrics.callback("signature_rejected")
		s.log(ctx).Warn("gateway_signature_rejected",
			zap.String("merchant_trade_no", params["MerchantTradeNo"]),
			zap.Error(err),
		)
		return nil, err
	}

	result, err := s.Finalize(ctx, cb.MerchantTradeNo, cb.Succeeded(), cb)
	if err != nil {
		s.metrics.callback("error")
		return nil, err
	}
	if result.Replayed {
		s.log(ctx).Info("duplicate_gateway_callback", zap.String("order_number", cb.MerchantTradeNo))
	}
	s.metrics.callback(result.Outcome())
	return result, nil
}

// OrderStatus returns an order by number
func (s *CheckoutService) OrderStatus(ctx context.Context, orderNumber string) (*models.Order, error) {
	return s.orders.FindByNumber(ctx, orderNumber)
}

// DonorOrders returns a donor's purchase history including emergency purchases
func (s *CheckoutService) DonorOrders(ctx context.Context, donorID uint, limit int) ([]DonorPurchase, error) {
	orders, err := s.orders.ListByDonor(ctx, donorID, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(orders))
	for _, o := range orders {
		if o.Source == models.OrderSourceEmergency {
			ids = append(ids, o.ID)
		}
	}
	records, err := s.orders.EmergencyRecordsFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	purchases := make([]DonorPurchase, 0, len(orders))
	for _, o := range orders {
		p := DonorPurchase{Order: o}
		if r, ok := records[o.ID]; ok {
			rec := r
			p.EmergencyRecord = &rec
		}
		purchases = append(purchases, p)
	}
	return purchases, nil
}

func recordCallback(gw *models.GatewayTransaction, cb *CallbackResult) {
	if cb == nil {
		return
	}
	if cb.TradeNo != "" {
		tradeNo := cb.TradeNo
		gw.GatewayTradeNo = &tradeNo
	}
	if cb.RtnCode != "" {
		code := cb.RtnCode
		gw.ReturnCode = &code
	}
	if cb.RtnMsg != "" {
		msg := cb.RtnMsg
		gw.ReturnMessage = &msg
	}
	if len(cb.Raw) > 0 {
		if raw, err := json.Marshal(cb.Raw); err == nil {
			gw.ResponseData = datatypes.JSON(raw)
		}
	}
}

func paymentFailureReason(cb *CallbackResult) string {
	if cb == nil || cb.RtnCode == "" {
		return ReasonPaymentFailed
	}
	return fmt.Sprintf("%s: gateway code %s", ReasonPaymentFailed, cb.RtnCode)
}

// businessRejection maps errors that should fail the order instead of aborting finalize
func businessRejection(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var saturated *EmergencyNeedSaturatedError
	switch {
	case errors.As(err, &saturated):
		return ReasonEmergencyNeedSaturated, true
	case errors.Is(err, ErrEmergencyNeedNotFound):
		return ReasonEmergencyNeedNotFound, true
	case errors.Is(err, ErrSupplyNotFound):
		return ReasonSupplyNotFound, true
	}
	return "", false
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "OK")
	}
	span.End()
}
