package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "github.com/kanili/api/internal/domain"
	"github.com/kanili/api/internal/payments"
	"github.com/kanili/api/internal/platform/idempotency"
	"github.com/kanili/api/internal/repositories"
)

const (
	defaultReminderDelay      = 25 * time.Minute
	defaultFreeShippingWindow = 24 * time.Hour
	defaultEarnRateBP         = 100
	settlementSource          = "payment_webhook"
)

// SettlementServiceDeps bundles the collaborators required to construct a settlement service.
type SettlementServiceDeps struct {
	Orders        repositories.OrderRepository
	Users         repositories.UserRepository
	Points        repositories.PointsRepository
	Carts         repositories.CartRepository
	WebhookEvents repositories.WebhookEventRepository
	Stock         StockService
	Idempotency   idempotency.Store
	Reminders     ReminderScheduler
	Emails        EmailEnqueuer
	DeadLetters   DeadLetterPublisher
	Logger        *zap.Logger
	Clock         func() time.Time

	// ReminderDelay is how long after payment completion the follow-up
	// reminder fires. Defaults to 25 minutes.
	ReminderDelay time.Duration
	// FreeShippingWindow is the free-shipping grace stamped on paid orders.
	// Defaults to 24 hours.
	FreeShippingWindow time.Duration
	// EarnRateBasisPoints is the club-member accrual rate on the paid total.
	// Defaults to 100 (1%).
	EarnRateBasisPoints int64
	// EventTTL bounds how long processed-event records are retained.
	EventTTL time.Duration
	// OperatorEmail receives the new-order notification.
	OperatorEmail string
}

type settlementService struct {
	orders        repositories.OrderRepository
	users         repositories.UserRepository
	points        repositories.PointsRepository
	carts         repositories.CartRepository
	webhookEvents repositories.WebhookEventRepository
	stock         StockService
	idem          idempotency.Store
	reminders     ReminderScheduler
	emails        EmailEnqueuer
	deadLetters   DeadLetterPublisher
	logger        *zap.Logger
	clock         func() time.Time

	reminderDelay      time.Duration
	freeShippingWindow time.Duration
	earnRateBP         int64
	eventTTL           time.Duration
	operatorEmail      string
}

// NewSettlementService wires dependencies into a concrete SettlementService implementation.
func NewSettlementService(deps SettlementServiceDeps) (SettlementService, error) {
	if deps.Orders == nil {
		return nil, errors.New("settlement service: order repository is required")
	}
	if deps.WebhookEvents == nil {
		return nil, errors.New("settlement service: webhook event repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("settlement service: stock service is required")
	}
	if deps.Idempotency == nil {
		return nil, errors.New("settlement service: idempotency store is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	reminderDelay := deps.ReminderDelay
	if reminderDelay <= 0 {
		reminderDelay = defaultReminderDelay
	}
	freeShippingWindow := deps.FreeShippingWindow
	if freeShippingWindow <= 0 {
		freeShippingWindow = defaultFreeShippingWindow
	}
	earnRateBP := deps.EarnRateBasisPoints
	if earnRateBP < 0 {
		earnRateBP = 0
	} else if earnRateBP == 0 {
		earnRateBP = defaultEarnRateBP
	}
	eventTTL := deps.EventTTL
	if eventTTL <= 0 {
		eventTTL = idempotency.DefaultTTL
	}

	return &settlementService{
		orders:             deps.Orders,
		users:              deps.Users,
		points:             deps.Points,
		carts:              deps.Carts,
		webhookEvents:      deps.WebhookEvents,
		stock:              deps.Stock,
		idem:               deps.Idempotency,
		reminders:          deps.Reminders,
		emails:             deps.Emails,
		deadLetters:        deps.DeadLetters,
		logger:             logger,
		clock:              clock,
		reminderDelay:      reminderDelay,
		freeShippingWindow: freeShippingWindow,
		earnRateBP:         earnRateBP,
		eventTTL:           eventTTL,
		operatorEmail:      strings.TrimSpace(deps.OperatorEmail),
	}, nil
}

// Process handles one gateway callback end to end. The contract with the HTTP
// handler: the audit record is written first, duplicate deliveries are detected
// before any side effect, and an internal failure is published to the
// dead-letter topic with the claim released so a redelivery can retry. The
// returned error is informational; the gateway is acknowledged either way.
func (s *settlementService) Process(ctx context.Context, callback payments.GatewayCallback) (SettlementOutcome, error) {
	now := s.clock().UTC()
	outcome := SettlementOutcome{
		OrderNumber: callback.OrderNumber,
		ConfirmNum:  callback.ConfirmNum,
	}

	s.appendAudit(ctx, callback, now)

	key, fingerprint, claimed, dup, err := s.claimEvent(ctx, callback, now)
	if err != nil {
		return outcome, s.deadLetter(ctx, callback, fmt.Errorf("claim event: %w", err), now)
	}
	if dup != "" {
		outcome.Result = dup
		return outcome, nil
	}

	order, found, err := s.resolveOrder(ctx, callback.OrderNumber)
	if err != nil {
		s.releaseClaim(ctx, claimed, key, fingerprint)
		return outcome, s.deadLetter(ctx, callback, fmt.Errorf("resolve order: %w", err), now)
	}
	if !found {
		s.logger.Warn("gateway callback for unknown order",
			zap.String("orderNumber", callback.OrderNumber),
			zap.String("confirmNum", callback.ConfirmNum),
		)
		outcome.Result = SettlementUnknownOrder
		s.markProcessed(ctx, claimed, key, fingerprint, outcome, now)
		return outcome, nil
	}

	if callback.Approved() {
		settled, err := s.settleApproved(ctx, order, callback, now)
		if err != nil {
			s.releaseClaim(ctx, claimed, key, fingerprint)
			return outcome, s.deadLetter(ctx, callback, err, now)
		}
		outcome.Result = SettlementCompleted
		s.markProcessed(ctx, claimed, key, fingerprint, outcome, now)
		s.notify(ctx, settled, EmailTemplateOrderConfirmation, now)
		return outcome, nil
	}

	if _, err := s.orders.ApplyPaymentResult(ctx, order.ID, repositories.OrderPaymentUpdate{
		PaymentStatus: domain.PaymentStatusFailed,
		UpdatedAt:     now,
	}); err != nil {
		s.releaseClaim(ctx, claimed, key, fingerprint)
		return outcome, s.deadLetter(ctx, callback, fmt.Errorf("mark payment failed: %w", err), now)
	}
	outcome.Result = SettlementFailed
	s.markProcessed(ctx, claimed, key, fingerprint, outcome, now)
	s.notify(ctx, order, EmailTemplatePaymentFailed, now)
	return outcome, nil
}

// settleApproved commits the side effects of a successful payment: order
// transition, stock decrement, loyalty accrual, cart cleanup, and the durable
// payment reminder. Only the order transition is fatal; everything after it is
// logged and skipped on failure since the payment already happened.
func (s *settlementService) settleApproved(ctx context.Context, order domain.Order, callback payments.GatewayCallback, now time.Time) (domain.Order, error) {
	freeShippingUntil := now.Add(s.freeShippingWindow)
	paidAt := now

	settled, err := s.orders.ApplyPaymentResult(ctx, order.ID, repositories.OrderPaymentUpdate{
		PaymentStatus:     domain.PaymentStatusCompleted,
		Status:            domain.OrderStatusPending,
		ConfirmNum:        callback.ConfirmNum,
		FreeShippingUntil: &freeShippingUntil,
		PaidAt:            &paidAt,
		UpdatedAt:         now,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("apply payment result: %w", err)
	}

	s.stock.CommitOrderLines(ctx, settled)
	s.creditEarnedPoints(ctx, settled, now)
	s.clearCart(ctx, settled)
	s.scheduleReminder(ctx, settled, now)

	return settled, nil
}

func (s *settlementService) appendAudit(ctx context.Context, callback payments.GatewayCallback, now time.Time) {
	if _, err := s.webhookEvents.Append(ctx, domain.WebhookEvent{
		ConfirmNum:   callback.ConfirmNum,
		OrderNumber:  callback.OrderNumber,
		Status:       string(callback.Status),
		Amount:       callback.AmountAgorot,
		CustomerName: callback.CustomerName,
		Email:        callback.CustomerEmail,
		Phone:        callback.CustomerPhone,
		Raw:          string(callback.Raw),
		ReceivedAt:   now,
	}); err != nil {
		s.logger.Error("webhook audit append failed",
			zap.String("orderNumber", callback.OrderNumber),
			zap.Error(err),
		)
	}
}

// claimEvent claims the confirm-number key. A callback without a confirm
// number cannot be deduplicated; it is processed unguarded and logged.
func (s *settlementService) claimEvent(ctx context.Context, callback payments.GatewayCallback, now time.Time) (key, fingerprint string, claimed bool, duplicate string, err error) {
	confirm := strings.TrimSpace(callback.ConfirmNum)
	if confirm == "" {
		s.logger.Warn("gateway callback without confirm number, processing unguarded",
			zap.String("orderNumber", callback.OrderNumber),
		)
		return "", "", false, "", nil
	}

	key = "payment:" + confirm
	fingerprint = idempotency.Fingerprint(callback.Raw)

	claim, err := s.idem.Claim(ctx, key, fingerprint, now, s.eventTTL)
	if err != nil {
		if errors.Is(err, idempotency.ErrFingerprintMismatch) {
			s.logger.Warn("confirm number reused with a different payload",
				zap.String("confirmNum", confirm),
			)
			return "", "", false, SettlementDuplicate, nil
		}
		return key, fingerprint, false, "", err
	}

	switch claim.State {
	case idempotency.ClaimStateCompleted:
		s.logger.Info("duplicate gateway delivery ignored",
			zap.String("confirmNum", confirm),
			zap.String("storedOutcome", claim.Record.Outcome),
		)
		return key, fingerprint, false, SettlementDuplicate, nil
	case idempotency.ClaimStatePending:
		return key, fingerprint, false, SettlementInFlight, nil
	default:
		return key, fingerprint, true, "", nil
	}
}

func (s *settlementService) markProcessed(ctx context.Context, claimed bool, key, fingerprint string, outcome SettlementOutcome, now time.Time) {
	if !claimed {
		return
	}
	if err := s.idem.MarkProcessed(ctx, key, fingerprint, idempotency.Outcome{
		Result:      outcome.Result,
		OrderNumber: outcome.OrderNumber,
	}, now, s.eventTTL); err != nil {
		s.logger.Error("mark processed failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

func (s *settlementService) releaseClaim(ctx context.Context, claimed bool, key, fingerprint string) {
	if !claimed {
		return
	}
	if err := s.idem.Release(ctx, key, fingerprint); err != nil {
		s.logger.Error("release claim failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

func (s *settlementService) resolveOrder(ctx context.Context, orderNumber string) (domain.Order, bool, error) {
	order, err := s.orders.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Order{}, false, nil
		}
		return domain.Order{}, false, err
	}
	return order, true, nil
}

func (s *settlementService) creditEarnedPoints(ctx context.Context, order domain.Order, now time.Time) {
	if s.points == nil || s.users == nil || s.earnRateBP <= 0 {
		return
	}

	user, err := s.users.FindByID(ctx, order.UserID)
	if err != nil {
		s.logger.Warn("load user for points accrual failed",
			zap.String("orderNumber", order.OrderNumber),
			zap.Error(err),
		)
		return
	}
	if !user.ClubMember {
		return
	}

	points := order.Breakdown.Total * s.earnRateBP / 10000
	if points <= 0 {
		return
	}

	if _, err := s.points.CreditEarned(ctx, order.UserID, order.OrderNumber, points, now); err != nil {
		s.logger.Error("points accrual failed",
			zap.String("orderNumber", order.OrderNumber),
			zap.Int64("points", points),
			zap.Error(err),
		)
	}
}

func (s *settlementService) clearCart(ctx context.Context, order domain.Order) {
	if s.carts == nil {
		return
	}
	removed, err := s.carts.DeleteByUser(ctx, order.UserID)
	if err != nil {
		s.logger.Error("cart cleanup failed",
			zap.String("orderNumber", order.OrderNumber),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("cart cleared after payment",
		zap.String("orderNumber", order.OrderNumber),
		zap.Int("lines", removed),
	)
}

// scheduleReminder publishes the durable follow-up job; delivery is held by
// the subscriber until the not-before time, so the schedule survives restarts.
func (s *settlementService) scheduleReminder(ctx context.Context, order domain.Order, now time.Time) {
	if s.reminders == nil {
		return
	}
	if _, err := s.reminders.SchedulePaymentReminder(ctx, PaymentReminderMessage{
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Email:       order.CustomerEmail,
		NotBefore:   now.Add(s.reminderDelay),
		QueuedAt:    now,
	}); err != nil {
		s.logger.Error("schedule payment reminder failed",
			zap.String("orderNumber", order.OrderNumber),
			zap.Error(err),
		)
	}
}

// notify enqueues the customer and operator emails. Failures are logged and
// never roll back the settlement.
func (s *settlementService) notify(ctx context.Context, order domain.Order, template string, now time.Time) {
	if s.emails == nil {
		return
	}

	if recipient := strings.TrimSpace(order.CustomerEmail); recipient != "" {
		if _, err := s.emails.EnqueueOrderEmail(ctx, OrderEmailMessage{
			Template:    template,
			OrderNumber: order.OrderNumber,
			Recipient:   recipient,
			QueuedAt:    now,
		}); err != nil {
			s.logger.Warn("customer email enqueue failed",
				zap.String("orderNumber", order.OrderNumber),
				zap.Error(err),
			)
		}
	}

	if s.operatorEmail != "" {
		if _, err := s.emails.EnqueueOrderEmail(ctx, OrderEmailMessage{
			Template:    EmailTemplateAdminNewOrder,
			OrderNumber: order.OrderNumber,
			Recipient:   s.operatorEmail,
			QueuedAt:    now,
		}); err != nil {
			s.logger.Warn("operator email enqueue failed",
				zap.String("orderNumber", order.OrderNumber),
				zap.Error(err),
			)
		}
	}
}

// deadLetter records an internal failure for operator replay instead of
// silently dropping the event.
func (s *settlementService) deadLetter(ctx context.Context, callback payments.GatewayCallback, cause error, now time.Time) error {
	s.logger.Error("settlement failed, routing to dead letter",
		zap.String("orderNumber", callback.OrderNumber),
		zap.String("confirmNum", callback.ConfirmNum),
		zap.Error(cause),
	)
	if s.deadLetters == nil {
		return cause
	}
	if _, err := s.deadLetters.PublishDeadLetter(ctx, DeadLetterMessage{
		Source:      settlementSource,
		OrderNumber: callback.OrderNumber,
		ConfirmNum:  callback.ConfirmNum,
		Reason:      cause.Error(),
		Payload:     callback.Raw,
		QueuedAt:    now,
	}); err != nil {
		s.logger.Error("dead letter publish failed", zap.Error(err))
	}
	return cause
}
