package usersgorm

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domain"
)

var (
	ErrNotFound           = domain.ErrNotFound
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDisabled           = errors.New("user disabled")
	ErrEmailTaken         = errors.New("email already registered")
)

type Repo struct{ db *gorm.DB }

func New(db *gorm.DB) *Repo { return &Repo{db: db} }

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Users

func (r *Repo) CreateUser(ctx context.Context, u *UserRecord) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = normalizeEmail(u.Email)
	u.Active = true
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *Repo) GetUser(ctx context.Context, id string) (*UserRecord, error) {
	var u UserRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *Repo) GetUserByEmail(ctx context.Context, email string) (*UserRecord, error) {
	var u UserRecord
	if err := r.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// UserSummary is a row of the admin user list.
type UserSummary struct {
	ID                  string `json:"id"`
	Email               string `json:"email"`
	Role                string `json:"role"`
	FullName            string `json:"full_name"`
	Active              bool   `json:"active"`
	OnboardingCompleted bool   `json:"onboarding_completed"`
}

func (r *Repo) ListUsers(ctx context.Context, role string) ([]UserSummary, error) {
	q := r.db.WithContext(ctx).Table("users AS u").
		Select(`u.id, u.email, COALESCE(ur.role, '') AS role, COALESCE(p.full_name, '') AS full_name, u.active,
			CASE WHEN ur.role = 'user' THEN COALESCE(b.onboarding_completed, false)
			     ELSE COALESCE(p.onboarding_completed, false) END AS onboarding_completed`).
		Joins("LEFT JOIN user_roles ur ON ur.user_id = u.id").
		Joins("LEFT JOIN profiles p ON p.user_id = u.id").
		Joins("LEFT JOIN businesses b ON b.user_id = u.id")
	if role != "" {
		q = q.Where("ur.role = ?", role)
	}
	var out []UserSummary
	if err := q.Order("u.created_at DESC").Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) SetPassword(ctx context.Context, userID, plain string) error {
	h, err := hashPassword(plain)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&UserRecord{}).Where("id = ?", userID).Update("password_hash", h).Error
}

func (r *Repo) SetActive(ctx context.Context, userID string, active bool) error {
	res := r.db.WithContext(ctx).Model(&UserRecord{}).Where("id = ?", userID).Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) Verify(ctx context.Context, email, plain string) (*UserRecord, error) {
	u, err := r.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if u.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(plain)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.Active {
		return nil, ErrDisabled
	}
	return u, nil
}

// Provision creates the identity together with its role and profile rows.
func (r *Repo) Provision(ctx context.Context, u *UserRecord, plain string, role domain.Role, fullName string) error {
	if !role.Valid() {
		return errors.New("invalid role")
	}
	h, err := hashPassword(plain)
	if err != nil {
		return err
	}
	if _, err := r.GetUserByEmail(ctx, u.Email); err == nil {
		return ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	u.PasswordHash = h
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txr := &Repo{db: tx}
		if err := txr.CreateUser(ctx, u); err != nil {
			return err
		}
		if err := tx.Create(&UserRoleRecord{UserID: u.ID, Role: string(role)}).Error; err != nil {
			return err
		}
		return tx.Create(&ProfileRecord{UserID: u.ID, FullName: strings.TrimSpace(fullName)}).Error
	})
}

// Roles

// Role returns the stored role; ErrNotFound when the user has none.
func (r *Repo) Role(ctx context.Context, userID string) (domain.Role, error) {
	var rec UserRoleRecord
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&rec).Error
	if err != nil {
		return "", err
	}
	if rec.ID == 0 {
		return "", ErrNotFound
	}
	return domain.ParseRole(rec.Role)
}

func (r *Repo) SetRole(ctx context.Context, userID string, role domain.Role) error {
	if !role.Valid() {
		return errors.New("invalid role")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).Create(&UserRoleRecord{UserID: userID, Role: string(role)}).Error
}

// Profiles and businesses

func (r *Repo) Profile(ctx context.Context, userID string) (*ProfileRecord, error) {
	var p ProfileRecord
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// OrientationCompleted reads profiles.onboarding_completed; a missing profile is not completed.
func (r *Repo) OrientationCompleted(ctx context.Context, userID string) (bool, error) {
	p, err := r.Profile(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.OnboardingCompleted, nil
}

func (r *Repo) SetOrientationCompleted(ctx context.Context, userID string, done bool) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"onboarding_completed", "updated_at"}),
	}).Create(&ProfileRecord{UserID: userID, OnboardingCompleted: done}).Error
}

func (r *Repo) Business(ctx context.Context, userID string) (*BusinessRecord, error) {
	var b BusinessRecord
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&b).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// OnboardingCompleted reads businesses.onboarding_completed; no business row means not completed.
func (r *Repo) OnboardingCompleted(ctx context.Context, userID string) (bool, error) {
	b, err := r.Business(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return b.OnboardingCompleted, nil
}

// UpsertBusiness writes the business details keyed by owner.
func (r *Repo) UpsertBusiness(ctx context.Context, b *BusinessRecord) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"business_name", "industry", "website", "onboarding_completed", "updated_at"}),
	}).Create(b).Error
}

func (r *Repo) SetOnboardingCompleted(ctx context.Context, userID string, done bool) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"onboarding_completed", "updated_at"}),
	}).Create(&BusinessRecord{UserID: userID, OnboardingCompleted: done}).Error
}

func hashPassword(plain string) (string, error) {
	if strings.TrimSpace(plain) == "" {
		return "", errors.New("empty password")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
