package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kanili/api/internal/repositories"
)

const (
	defaultRedeemLockTTL   = 5 * time.Minute
	defaultMaxRedeemBP     = 3000
	maxRedeemBasisPointCap = 10000
)

var (
	// ErrRedeemInvalidInput signals missing or malformed redemption parameters.
	ErrRedeemInvalidInput = errors.New("points: invalid input")
	// ErrAlreadyRedeemed signals a redeem ledger entry already exists for the order.
	ErrAlreadyRedeemed = errors.New("points: already redeemed for this order")
	// ErrRedemptionInProgress signals another redemption holds the per-user lock.
	ErrRedemptionInProgress = errors.New("points: redemption already in progress")
	// ErrRedemptionValidation signals the locked re-validation failed; the lock was released.
	ErrRedemptionValidation = errors.New("points: redemption validation failed")
)

// PointsServiceDeps bundles the collaborators required to construct a points service.
type PointsServiceDeps struct {
	Points repositories.PointsRepository
	Users  repositories.UserRepository
	Orders repositories.OrderRepository
	Logger *zap.Logger
	Clock  func() time.Time

	// LockTTL is the stale-lock override window; locks older than this are
	// treated as abandoned. Defaults to 5 minutes.
	LockTTL time.Duration
	// MaxRedeemBasisPoints caps the redeemable points at a share of the order
	// total. Defaults to 3000 (30%).
	MaxRedeemBasisPoints int64
}

type pointsService struct {
	points  repositories.PointsRepository
	users   repositories.UserRepository
	orders  repositories.OrderRepository
	logger  *zap.Logger
	clock   func() time.Time
	lockTTL time.Duration
	capBP   int64
}

// NewPointsService wires dependencies into a concrete PointsService implementation.
func NewPointsService(deps PointsServiceDeps) (PointsService, error) {
	if deps.Points == nil {
		return nil, errors.New("points service: points repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("points service: user repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("points service: order repository is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	lockTTL := deps.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultRedeemLockTTL
	}
	capBP := deps.MaxRedeemBasisPoints
	if capBP <= 0 || capBP > maxRedeemBasisPointCap {
		capBP = defaultMaxRedeemBP
	}

	return &pointsService{
		points:  deps.Points,
		users:   deps.Users,
		orders:  deps.Orders,
		logger:  logger,
		clock:   clock,
		lockTTL: lockTTL,
		capBP:   capBP,
	}, nil
}

// Redeem debits loyalty points against an order. Acquisition of the per-user
// lock is a single conditional write, so two concurrent calls cannot both
// enter the critical section; the debit, the ledger append, and the lock
// release commit in one transaction. Points are debited only after the order
// exists, never before payment-independent validation passes.
func (s *pointsService) Redeem(ctx context.Context, cmd RedeemCommand) (RedeemResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	orderID := strings.TrimSpace(cmd.OrderID)
	orderNumber := strings.TrimSpace(cmd.OrderNumber)
	if userID == "" || orderID == "" || orderNumber == "" {
		return RedeemResult{}, fmt.Errorf("%w: user id and order are required", ErrRedeemInvalidInput)
	}
	if cmd.Points <= 0 {
		return RedeemResult{}, fmt.Errorf("%w: points must be positive", ErrRedeemInvalidInput)
	}
	if cmd.OrderTotal <= 0 {
		return RedeemResult{}, fmt.Errorf("%w: order total must be positive", ErrRedeemInvalidInput)
	}

	redeemed, err := s.points.HasRedeemed(ctx, userID, orderNumber)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("points: check redeemed: %w", err)
	}
	if redeemed {
		return RedeemResult{}, ErrAlreadyRedeemed
	}

	now := s.clock().UTC()
	user, err := s.points.AcquireRedemptionLock(ctx, userID, now, s.lockTTL)
	if err != nil {
		if repositories.IsConflict(err) {
			return RedeemResult{}, ErrRedemptionInProgress
		}
		if repositories.IsNotFound(err) {
			return RedeemResult{}, fmt.Errorf("%w: user not found", ErrRedemptionValidation)
		}
		return RedeemResult{}, fmt.Errorf("points: acquire lock: %w", err)
	}

	// Validate against the state read under the lock.
	if reason := s.validateLocked(user.ClubMember, user.PointsBalance, cmd); reason != "" {
		s.releaseLock(ctx, userID)
		return RedeemResult{}, fmt.Errorf("%w: %s", ErrRedemptionValidation, reason)
	}

	entry, err := s.points.CommitRedemption(ctx, repositories.RedemptionCommit{
		UserID:      userID,
		OrderNumber: orderNumber,
		Points:      cmd.Points,
		Now:         now,
	})
	if err != nil {
		s.releaseLock(ctx, userID)
		var pointsErr *repositories.PointsError
		if errors.As(err, &pointsErr) {
			switch pointsErr.Code {
			case repositories.PointsErrorAlreadyRedeemed:
				return RedeemResult{}, ErrAlreadyRedeemed
			case repositories.PointsErrorInsufficientBalance:
				return RedeemResult{}, fmt.Errorf("%w: insufficient balance", ErrRedemptionValidation)
			}
		}
		return RedeemResult{}, fmt.Errorf("points: commit redemption: %w", err)
	}

	// The ledger debit is the authoritative record; the order stamp mirrors
	// it onto the breakdown and lowers the amount the gateway will charge.
	if _, err := s.orders.ApplyPointsRedemption(ctx, orderID, cmd.Points, now); err != nil {
		s.logger.Error("stamp redeemed value on order failed",
			zap.String("orderId", orderID),
			zap.String("orderNumber", orderNumber),
			zap.Error(err),
		)
	}

	return RedeemResult{
		Entry:      entry,
		NewBalance: entry.Balance,
	}, nil
}

// Balance returns the shopper's current points balance.
func (s *pointsService) Balance(ctx context.Context, userID string) (int64, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrRedeemInvalidInput)
	}
	user, err := s.users.FindByID(ctx, uid)
	if err != nil {
		return 0, err
	}
	return user.PointsBalance, nil
}

func (s *pointsService) validateLocked(clubMember bool, balance int64, cmd RedeemCommand) string {
	if !clubMember {
		return "user is not a club member"
	}
	if balance < cmd.Points {
		return "insufficient balance"
	}
	if maxRedeemable := cmd.OrderTotal * s.capBP / 10000; cmd.Points > maxRedeemable {
		return fmt.Sprintf("points exceed the redeemable cap of %d", maxRedeemable)
	}
	return ""
}

// releaseLock clears the per-user lock on every failure path after acquisition.
func (s *pointsService) releaseLock(ctx context.Context, userID string) {
	if err := s.points.ReleaseRedemptionLock(ctx, userID); err != nil {
		s.logger.Warn("release redemption lock failed",
			zap.String("userId", userID),
			zap.Error(err),
		)
	}
}
