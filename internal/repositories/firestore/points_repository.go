package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/kanili/api/internal/domain"
	pfirestore "github.com/kanili/api/internal/platform/firestore"
	"github.com/kanili/api/internal/repositories"
)

const pointsLedgerCollection = "points_ledger"

// A lock acquire that cannot finish quickly should fail fast; the caller maps
// the timeout to a retryable error rather than holding the request open.
const lockTxTimeout = 5 * time.Second

type ledgerDocument struct {
	UserID    string    `firestore:"user_id"`
	Type      string    `firestore:"type"`
	Amount    int64     `firestore:"amount"`
	Source    string    `firestore:"source"`
	Balance   int64     `firestore:"balance"`
	CreatedAt time.Time `firestore:"created_at"`
}

// PointsRepository owns the loyalty balance, the redemption lock, and the
// append-only ledger. The lock and every balance mutation run as single
// Firestore transactions, so concurrent redemptions cannot interleave.
type PointsRepository struct {
	provider *pfirestore.Provider
	users    *pfirestore.BaseRepository[userDocument]
	ledger   *pfirestore.BaseRepository[ledgerDocument]
}

// NewPointsRepository constructs a Firestore-backed points repository.
func NewPointsRepository(provider *pfirestore.Provider) (*PointsRepository, error) {
	if provider == nil {
		return nil, errors.New("points repository requires firestore provider")
	}
	return &PointsRepository{
		provider: provider,
		users:    pfirestore.NewBaseRepository[userDocument](provider, usersCollection, nil, nil),
		ledger:   pfirestore.NewBaseRepository[ledgerDocument](provider, pointsLedgerCollection, nil, nil),
	}, nil
}

// redeemLedgerID encodes the (user, order) pair so a second redemption for the
// same order collides on the document ID.
func redeemLedgerID(userID, orderNumber string) string {
	return fmt.Sprintf("redeem_%s_%s", userID, orderNumber)
}

func earnLedgerID(userID, orderNumber string) string {
	return fmt.Sprintf("earn_%s_%s", userID, orderNumber)
}

// AcquireRedemptionLock performs the conditional lock write. It succeeds when
// redeeming_in_progress is false, or when the existing lock is older than
// staleAfter and is treated as abandoned.
func (r *PointsRepository) AcquireRedemptionLock(ctx context.Context, userID string, now time.Time, staleAfter time.Duration) (domain.User, error) {
	if r == nil || r.provider == nil {
		return domain.User{}, errors.New("points repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.User{}, repositories.NewPointsError(repositories.PointsErrorInvalidInput, "user id is required", nil)
	}

	var locked domain.User
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := r.users.GetTx(ctx, tx, uid)
		if err != nil {
			if repositories.IsNotFound(err) {
				return repositories.NewPointsError(repositories.PointsErrorUserNotFound, fmt.Sprintf("user %s not found", uid), err)
			}
			return err
		}

		data := doc.Data
		if data.RedeemingInProgress {
			lockedAt := time.Time{}
			if data.RedeemingLockedAt != nil {
				lockedAt = *data.RedeemingLockedAt
			}
			if staleAfter <= 0 || now.Sub(lockedAt) < staleAfter {
				return repositories.NewPointsError(repositories.PointsErrorLockHeld, fmt.Sprintf("redemption already in progress for user %s", uid), nil)
			}
		}

		ref, err := r.users.DocumentRef(ctx, uid)
		if err != nil {
			return err
		}
		lockTime := now.UTC()
		if err := tx.Update(ref, []firestore.Update{
			{Path: "redeeming_in_progress", Value: true},
			{Path: "redeeming_locked_at", Value: lockTime},
			{Path: "updated_at", Value: lockTime},
		}); err != nil {
			return err
		}

		data.RedeemingInProgress = true
		data.RedeemingLockedAt = &lockTime
		data.UpdatedAt = lockTime
		locked = userFromDocument(doc.ID, data)
		return nil
	}, pfirestore.WithTxTimeout(lockTxTimeout))
	if err != nil {
		var pointsErr *repositories.PointsError
		if errors.As(err, &pointsErr) {
			return domain.User{}, pointsErr
		}
		return domain.User{}, pfirestore.WrapError("points.lock", err)
	}
	return locked, nil
}

// ReleaseRedemptionLock clears the lock unconditionally. Safe to call after a
// failed redemption regardless of who holds the lock.
func (r *PointsRepository) ReleaseRedemptionLock(ctx context.Context, userID string) error {
	if r == nil || r.users == nil {
		return errors.New("points repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return repositories.NewPointsError(repositories.PointsErrorInvalidInput, "user id is required", nil)
	}

	_, err := r.users.Update(ctx, uid, []firestore.Update{
		{Path: "redeeming_in_progress", Value: false},
		{Path: "redeeming_locked_at", Value: firestore.Delete},
		{Path: "updated_at", Value: time.Now().UTC()},
	})
	if err != nil && !repositories.IsNotFound(err) {
		return err
	}
	return nil
}

// CommitRedemption debits the balance, appends the redeem ledger entry, and
// releases the lock in one transaction.
func (r *PointsRepository) CommitRedemption(ctx context.Context, commit repositories.RedemptionCommit) (domain.PointsLedgerEntry, error) {
	if r == nil || r.provider == nil {
		return domain.PointsLedgerEntry{}, errors.New("points repository not initialised")
	}
	uid := strings.TrimSpace(commit.UserID)
	orderNumber := strings.TrimSpace(commit.OrderNumber)
	if uid == "" || orderNumber == "" {
		return domain.PointsLedgerEntry{}, repositories.NewPointsError(repositories.PointsErrorInvalidInput, "user id and order number are required", nil)
	}
	if commit.Points <= 0 {
		return domain.PointsLedgerEntry{}, repositories.NewPointsError(repositories.PointsErrorInvalidInput, fmt.Sprintf("points must be positive, got %d", commit.Points), nil)
	}

	ledgerID := redeemLedgerID(uid, orderNumber)
	now := commit.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var entry domain.PointsLedgerEntry
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		userDoc, err := r.users.GetTx(ctx, tx, uid)
		if err != nil {
			if repositories.IsNotFound(err) {
				return repositories.NewPointsError(repositories.PointsErrorUserNotFound, fmt.Sprintf("user %s not found", uid), err)
			}
			return err
		}

		ledgerRef, err := r.ledger.DocumentRef(ctx, ledgerID)
		if err != nil {
			return err
		}
		if _, err := tx.Get(ledgerRef); err == nil {
			return repositories.NewPointsError(repositories.PointsErrorAlreadyRedeemed, fmt.Sprintf("points already redeemed for order %s", orderNumber), nil)
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		if userDoc.Data.PointsBalance < commit.Points {
			return repositories.NewPointsError(repositories.PointsErrorInsufficientBalance, fmt.Sprintf("balance %d is below debit %d", userDoc.Data.PointsBalance, commit.Points), nil)
		}

		newBalance := userDoc.Data.PointsBalance - commit.Points
		ledgerDoc := ledgerDocument{
			UserID:    uid,
			Type:      string(domain.LedgerEntryRedeem),
			Amount:    -commit.Points,
			Source:    orderNumber,
			Balance:   newBalance,
			CreatedAt: now,
		}
		if err := tx.Create(ledgerRef, ledgerDoc); err != nil {
			return err
		}

		userRef, err := r.users.DocumentRef(ctx, uid)
		if err != nil {
			return err
		}
		if err := tx.Update(userRef, []firestore.Update{
			{Path: "points_balance", Value: newBalance},
			{Path: "redeeming_in_progress", Value: false},
			{Path: "redeeming_locked_at", Value: firestore.Delete},
			{Path: "updated_at", Value: now},
		}); err != nil {
			return err
		}

		entry = ledgerEntryFromDocument(ledgerID, ledgerDoc)
		return nil
	})
	if err != nil {
		var pointsErr *repositories.PointsError
		if errors.As(err, &pointsErr) {
			return domain.PointsLedgerEntry{}, pointsErr
		}
		return domain.PointsLedgerEntry{}, pfirestore.WrapError("points.redeem", err)
	}
	return entry, nil
}

// CreditEarned appends an earn entry and raises the balance. The ledger ID
// encodes (user, order), so a retried credit for the same order returns the
// existing entry without changing the balance again.
func (r *PointsRepository) CreditEarned(ctx context.Context, userID, orderNumber string, points int64, now time.Time) (domain.PointsLedgerEntry, error) {
	if r == nil || r.provider == nil {
		return domain.PointsLedgerEntry{}, errors.New("points repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	number := strings.TrimSpace(orderNumber)
	if uid == "" || number == "" {
		return domain.PointsLedgerEntry{}, repositories.NewPointsError(repositories.PointsErrorInvalidInput, "user id and order number are required", nil)
	}
	if points <= 0 {
		return domain.PointsLedgerEntry{}, repositories.NewPointsError(repositories.PointsErrorInvalidInput, fmt.Sprintf("points must be positive, got %d", points), nil)
	}

	ledgerID := earnLedgerID(uid, number)
	creditedAt := now.UTC()
	if creditedAt.IsZero() {
		creditedAt = time.Now().UTC()
	}

	var entry domain.PointsLedgerEntry
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		userDoc, err := r.users.GetTx(ctx, tx, uid)
		if err != nil {
			if repositories.IsNotFound(err) {
				return repositories.NewPointsError(repositories.PointsErrorUserNotFound, fmt.Sprintf("user %s not found", uid), err)
			}
			return err
		}

		existing, err := r.ledger.GetTx(ctx, tx, ledgerID)
		if err == nil {
			entry = ledgerEntryFromDocument(existing.ID, existing.Data)
			return nil
		}
		if !repositories.IsNotFound(err) {
			return err
		}

		newBalance := userDoc.Data.PointsBalance + points
		ledgerDoc := ledgerDocument{
			UserID:    uid,
			Type:      string(domain.LedgerEntryEarn),
			Amount:    points,
			Source:    number,
			Balance:   newBalance,
			CreatedAt: creditedAt,
		}

		ledgerRef, err := r.ledger.DocumentRef(ctx, ledgerID)
		if err != nil {
			return err
		}
		if err := tx.Create(ledgerRef, ledgerDoc); err != nil {
			return err
		}

		userRef, err := r.users.DocumentRef(ctx, uid)
		if err != nil {
			return err
		}
		if err := tx.Update(userRef, []firestore.Update{
			{Path: "points_balance", Value: newBalance},
			{Path: "updated_at", Value: creditedAt},
		}); err != nil {
			return err
		}

		entry = ledgerEntryFromDocument(ledgerID, ledgerDoc)
		return nil
	})
	if err != nil {
		var pointsErr *repositories.PointsError
		if errors.As(err, &pointsErr) {
			return domain.PointsLedgerEntry{}, pointsErr
		}
		return domain.PointsLedgerEntry{}, pfirestore.WrapError("points.earn", err)
	}
	return entry, nil
}

// HasRedeemed reports whether a redeem entry exists for the (user, order) pair.
func (r *PointsRepository) HasRedeemed(ctx context.Context, userID, orderNumber string) (bool, error) {
	if r == nil || r.ledger == nil {
		return false, errors.New("points repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	number := strings.TrimSpace(orderNumber)
	if uid == "" || number == "" {
		return false, repositories.NewPointsError(repositories.PointsErrorInvalidInput, "user id and order number are required", nil)
	}

	_, err := r.ledger.Get(ctx, redeemLedgerID(uid, number))
	if err != nil {
		if repositories.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListLedger returns the shopper's ledger entries, newest first.
func (r *PointsRepository) ListLedger(ctx context.Context, userID string, limit int) ([]domain.PointsLedgerEntry, error) {
	if r == nil || r.ledger == nil {
		return nil, errors.New("points repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, repositories.NewPointsError(repositories.PointsErrorInvalidInput, "user id is required", nil)
	}
	if limit <= 0 {
		limit = 50
	}

	docs, err := r.ledger.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("user_id", "==", uid).OrderBy("created_at", firestore.Desc).Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	entries := make([]domain.PointsLedgerEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, ledgerEntryFromDocument(doc.ID, doc.Data))
	}
	return entries, nil
}

func ledgerEntryFromDocument(id string, doc ledgerDocument) domain.PointsLedgerEntry {
	return domain.PointsLedgerEntry{
		ID:        id,
		UserID:    doc.UserID,
		Type:      domain.LedgerEntryType(doc.Type),
		Amount:    doc.Amount,
		Source:    doc.Source,
		Balance:   doc.Balance,
		CreatedAt: doc.CreatedAt,
	}
}

var _ repositories.PointsRepository = (*PointsRepository)(nil)
