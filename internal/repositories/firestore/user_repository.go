package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/kanili/api/internal/domain"
	pfirestore "github.com/kanili/api/internal/platform/firestore"
	"github.com/kanili/api/internal/repositories"
)

const usersCollection = "users"

type userDocument struct {
	Email               string     `firestore:"email,omitempty"`
	Name                string     `firestore:"name,omitempty"`
	PointsBalance       int64      `firestore:"points_balance"`
	ClubMember          bool       `firestore:"club_member"`
	RedeemingInProgress bool       `firestore:"redeeming_in_progress"`
	RedeemingLockedAt   *time.Time `firestore:"redeeming_locked_at,omitempty"`
	UpdatedAt           time.Time  `firestore:"updated_at"`
}

// UserRepository reads shopper profiles from Firestore.
type UserRepository struct {
	base *pfirestore.BaseRepository[userDocument]
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[userDocument](provider, usersCollection, nil, nil)
	return &UserRepository{base: base}, nil
}

// FindByID loads a shopper profile.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.User{}, errors.New("user repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.User{}, err
	}
	return userFromDocument(doc.ID, doc.Data), nil
}

func userFromDocument(id string, doc userDocument) domain.User {
	return domain.User{
		ID:                  id,
		Email:               doc.Email,
		Name:                doc.Name,
		PointsBalance:       doc.PointsBalance,
		ClubMember:          doc.ClubMember,
		RedeemingInProgress: doc.RedeemingInProgress,
		RedeemingLockedAt:   doc.RedeemingLockedAt,
		UpdatedAt:           doc.UpdatedAt,
	}
}

var _ repositories.UserRepository = (*UserRepository)(nil)
