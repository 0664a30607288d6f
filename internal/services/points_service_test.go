package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	domain "github.com/kanili/api/internal/domain"
	"github.com/kanili/api/internal/repositories"
)

// stubPointsRepo mirrors the conditional-write semantics of the Firestore
// implementation: lock acquisition and commits are serialised by a mutex.
type stubPointsRepo struct {
	mu       sync.Mutex
	user     domain.User
	redeemed map[string]domain.PointsLedgerEntry

	lockErr    error
	commitErr  error
	releases   int
	lockCalls  int
	commitDone int
}

func newStubPointsRepo(user domain.User) *stubPointsRepo {
	return &stubPointsRepo{
		user:     user,
		redeemed: make(map[string]domain.PointsLedgerEntry),
	}
}

func (s *stubPointsRepo) AcquireRedemptionLock(_ context.Context, userID string, now time.Time, staleAfter time.Duration) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockCalls++
	if s.lockErr != nil {
		return domain.User{}, s.lockErr
	}
	if s.user.RedeemingInProgress {
		lockedAt := time.Time{}
		if s.user.RedeemingLockedAt != nil {
			lockedAt = *s.user.RedeemingLockedAt
		}
		if now.Sub(lockedAt) < staleAfter {
			return domain.User{}, repositories.NewPointsError(repositories.PointsErrorLockHeld, "lock held", nil)
		}
	}
	s.user.RedeemingInProgress = true
	s.user.RedeemingLockedAt = &now
	return s.user, nil
}

func (s *stubPointsRepo) ReleaseRedemptionLock(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	s.user.RedeemingInProgress = false
	s.user.RedeemingLockedAt = nil
	return nil
}

func (s *stubPointsRepo) CommitRedemption(_ context.Context, commit repositories.RedemptionCommit) (domain.PointsLedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return domain.PointsLedgerEntry{}, s.commitErr
	}
	key := commit.UserID + "/" + commit.OrderNumber
	if _, ok := s.redeemed[key]; ok {
		return domain.PointsLedgerEntry{}, repositories.NewPointsError(repositories.PointsErrorAlreadyRedeemed, "already redeemed", nil)
	}
	if s.user.PointsBalance < commit.Points {
		return domain.PointsLedgerEntry{}, repositories.NewPointsError(repositories.PointsErrorInsufficientBalance, "insufficient", nil)
	}
	s.user.PointsBalance -= commit.Points
	s.user.RedeemingInProgress = false
	s.user.RedeemingLockedAt = nil
	entry := domain.PointsLedgerEntry{
		ID:        fmt.Sprintf("redeem_%s_%s", commit.UserID, commit.OrderNumber),
		UserID:    commit.UserID,
		Type:      domain.LedgerEntryRedeem,
		Amount:    -commit.Points,
		Source:    commit.OrderNumber,
		Balance:   s.user.PointsBalance,
		CreatedAt: commit.Now,
	}
	s.redeemed[key] = entry
	s.commitDone++
	return entry, nil
}

func (s *stubPointsRepo) CreditEarned(_ context.Context, userID, orderNumber string, points int64, now time.Time) (domain.PointsLedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user.PointsBalance += points
	return domain.PointsLedgerEntry{
		ID:      fmt.Sprintf("earn_%s_%s", userID, orderNumber),
		UserID:  userID,
		Type:    domain.LedgerEntryEarn,
		Amount:  points,
		Source:  orderNumber,
		Balance: s.user.PointsBalance,
	}, nil
}

func (s *stubPointsRepo) HasRedeemed(_ context.Context, userID, orderNumber string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.redeemed[userID+"/"+orderNumber]
	return ok, nil
}

func (s *stubPointsRepo) ListLedger(_ context.Context, userID string, limit int) ([]domain.PointsLedgerEntry, error) {
	return nil, nil
}

type stubUserRepo struct {
	user domain.User
	err  error
}

func (s *stubUserRepo) FindByID(_ context.Context, userID string) (domain.User, error) {
	if s.err != nil {
		return domain.User{}, s.err
	}
	return s.user, nil
}

func clubMember(balance int64) domain.User {
	return domain.User{
		ID:            "u1",
		PointsBalance: balance,
		ClubMember:    true,
	}
}

func newPointsService(t *testing.T, repo *stubPointsRepo) (PointsService, *stubOrderRepo) {
	t.Helper()
	orders := newStubOrderRepo()
	svc, err := NewPointsService(PointsServiceDeps{
		Points: repo,
		Users:  &stubUserRepo{user: repo.user},
		Orders: orders,
		Logger: zap.NewNop(),
		Clock: func() time.Time {
			return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("NewPointsService returned error: %v", err)
	}
	return svc, orders
}

func TestRedeemSuccess(t *testing.T) {
	repo := newStubPointsRepo(clubMember(200))
	svc, _ := newPointsService(t, repo)

	result, err := svc.Redeem(context.Background(), RedeemCommand{
		UserID:      "u1",
		OrderID:     "o1",
		OrderNumber: "KL-2025-00042",
		Points:      100,
		OrderTotal:  500,
	})
	if err != nil {
		t.Fatalf("Redeem returned error: %v", err)
	}
	if result.NewBalance != 100 {
		t.Fatalf("expected new balance 100, got %d", result.NewBalance)
	}
	if result.Entry.Amount != -100 {
		t.Fatalf("expected ledger amount -100, got %d", result.Entry.Amount)
	}
	if repo.user.RedeemingInProgress {
		t.Fatal("lock must be released after a successful commit")
	}
}

func TestRedeemStampsOrderBreakdown(t *testing.T) {
	repo := newStubPointsRepo(clubMember(200))
	svc, orders := newPointsService(t, repo)
	orders.Insert(context.Background(), domain.Order{
		ID:          "o1",
		OrderNumber: "KL-2025-00042",
		UserID:      "u1",
		Breakdown:   domain.PriceBreakdown{Total: 500},
	})

	if _, err := svc.Redeem(context.Background(), RedeemCommand{
		UserID:      "u1",
		OrderID:     "o1",
		OrderNumber: "KL-2025-00042",
		Points:      100,
		OrderTotal:  500,
	}); err != nil {
		t.Fatalf("Redeem returned error: %v", err)
	}

	order, err := orders.FindByID(context.Background(), "o1")
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if order.Breakdown.PointsValue != 100 {
		t.Fatalf("expected points value 100 on the breakdown, got %d", order.Breakdown.PointsValue)
	}
	if order.Breakdown.Total != 400 {
		t.Fatalf("expected total lowered to 400, got %d", order.Breakdown.Total)
	}
}

func TestRedeemExactlyOncePerOrder(t *testing.T) {
	repo := newStubPointsRepo(clubMember(500))
	svc, _ := newPointsService(t, repo)
	cmd := RedeemCommand{UserID: "u1", OrderID: "o1", OrderNumber: "KL-2025-00001", Points: 50, OrderTotal: 500}

	if _, err := svc.Redeem(context.Background(), cmd); err != nil {
		t.Fatalf("first redeem failed: %v", err)
	}
	if _, err := svc.Redeem(context.Background(), cmd); !errors.Is(err, ErrAlreadyRedeemed) {
		t.Fatalf("expected ErrAlreadyRedeemed, got %v", err)
	}
	if repo.commitDone != 1 {
		t.Fatalf("expected exactly one commit, got %d", repo.commitDone)
	}
	if repo.user.PointsBalance != 450 {
		t.Fatalf("expected balance 450, got %d", repo.user.PointsBalance)
	}
}

func TestRedeemCapEnforced(t *testing.T) {
	repo := newStubPointsRepo(clubMember(200))
	svc, _ := newPointsService(t, repo)

	// cap = floor(500 * 30%) = 150; requesting 160 fails and leaves the balance alone.
	_, err := svc.Redeem(context.Background(), RedeemCommand{
		UserID:      "u1",
		OrderID:     "o1",
		OrderNumber: "KL-2025-00002",
		Points:      160,
		OrderTotal:  500,
	})
	if !errors.Is(err, ErrRedemptionValidation) {
		t.Fatalf("expected ErrRedemptionValidation, got %v", err)
	}
	if repo.user.PointsBalance != 200 {
		t.Fatalf("balance must be unchanged, got %d", repo.user.PointsBalance)
	}
	if repo.releases != 1 {
		t.Fatalf("expected one defensive release, got %d", repo.releases)
	}
}

func TestRedeemRejectsNonClubMember(t *testing.T) {
	user := clubMember(200)
	user.ClubMember = false
	repo := newStubPointsRepo(user)
	svc, _ := newPointsService(t, repo)

	_, err := svc.Redeem(context.Background(), RedeemCommand{
		UserID:      "u1",
		OrderID:     "o1",
		OrderNumber: "KL-2025-00003",
		Points:      10,
		OrderTotal:  500,
	})
	if !errors.Is(err, ErrRedemptionValidation) {
		t.Fatalf("expected ErrRedemptionValidation, got %v", err)
	}
	if repo.releases != 1 {
		t.Fatalf("expected defensive release, got %d releases", repo.releases)
	}
}

func TestRedeemLockContention(t *testing.T) {
	lockedAt := time.Date(2025, 6, 15, 11, 58, 0, 0, time.UTC)
	user := clubMember(200)
	user.RedeemingInProgress = true
	user.RedeemingLockedAt = &lockedAt
	repo := newStubPointsRepo(user)
	svc, _ := newPointsService(t, repo)

	_, err := svc.Redeem(context.Background(), RedeemCommand{
		UserID:      "u1",
		OrderID:     "o1",
		OrderNumber: "KL-2025-00004",
		Points:      10,
		OrderTotal:  500,
	})
	if !errors.Is(err, ErrRedemptionInProgress) {
		t.Fatalf("expected ErrRedemptionInProgress, got %v", err)
	}
}

func TestRedeemStaleLockOverride(t *testing.T) {
	lockedAt := time.Date(2025, 6, 15, 11, 50, 0, 0, time.UTC) // 10 minutes old
	user := clubMember(200)
	user.RedeemingInProgress = true
	user.RedeemingLockedAt = &lockedAt
	repo := newStubPointsRepo(user)
	svc, _ := newPointsService(t, repo)

	result, err := svc.Redeem(context.Background(), RedeemCommand{
		UserID:      "u1",
		OrderID:     "o1",
		OrderNumber: "KL-2025-00005",
		Points:      50,
		OrderTotal:  500,
	})
	if err != nil {
		t.Fatalf("stale lock must be overridden, got %v", err)
	}
	if result.NewBalance != 150 {
		t.Fatalf("expected new balance 150, got %d", result.NewBalance)
	}
}

func TestRedeemConcurrentSingleWinner(t *testing.T) {
	repo := newStubPointsRepo(clubMember(100))
	svc, _ := newPointsService(t, repo)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Redeem(context.Background(), RedeemCommand{
				UserID:      "u1",
				OrderID:     fmt.Sprintf("o-1000%d", i),
				OrderNumber: fmt.Sprintf("KL-2025-1000%d", i),
				Points:      100,
				OrderTotal:  1000,
			})
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if !errors.Is(err, ErrRedemptionInProgress) && !errors.Is(err, ErrRedemptionValidation) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one winner, got %d", succeeded)
	}
	if repo.user.PointsBalance != 0 {
		t.Fatalf("expected final balance 0, got %d", repo.user.PointsBalance)
	}
}

func TestRedeemReleasesLockOnCommitFailure(t *testing.T) {
	repo := newStubPointsRepo(clubMember(200))
	repo.commitErr = errors.New("backend down")
	svc, _ := newPointsService(t, repo)

	_, err := svc.Redeem(context.Background(), RedeemCommand{
		UserID:      "u1",
		OrderID:     "o1",
		OrderNumber: "KL-2025-00006",
		Points:      50,
		OrderTotal:  500,
	})
	if err == nil {
		t.Fatal("expected commit error")
	}
	if repo.releases != 1 {
		t.Fatalf("expected defensive release after commit failure, got %d", repo.releases)
	}
}
