// internal/services/auth_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/emprendedores-unidos/marketplace/internal/config"
	"github.com/emprendedores-unidos/marketplace/internal/database"
	"github.com/emprendedores-unidos/marketplace/internal/models"
	"github.com/emprendedores-unidos/marketplace/internal/utils"
)

// ErrInvalidCredentials is deliberately vague so login never reveals which
// half of the pair was wrong.
var ErrInvalidCredentials = utils.NewAuthenticationError("invalid email or password")

const maxSlugAttempts = 20

type AuthService struct {
	db     *gorm.DB
	cfg    *config.Config
	logger *logrus.Entry
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Name      string          `json:"name" validate:"required,min=2,max=150"`
	Email     string          `json:"email" validate:"required,email,max=255"`
	Password  string          `json:"password" validate:"required,min=8,max=72"`
	Role      models.UserRole `json:"role" validate:"omitempty,oneof=buyer seller"`
	StoreName string          `json:"store_name" validate:"omitempty,min=2,max=150"`
	Sector    string          `json:"sector" validate:"omitempty,max=100"`
}

type AuthResponse struct {
	User        *models.User  `json:"user"`
	Store       *models.Store `json:"store,omitempty"`
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresIn   int           `json:"expires_in"` // in seconds
}

func NewAuthService(db *gorm.DB, cfg *config.Config) *AuthService {
	return &AuthService{
		db:     db,
		cfg:    cfg,
		logger: logrus.WithField("component", "auth"),
	}
}

// Register creates the user and, for sellers, their store in one transaction.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, utils.NewValidationError("invalid registration", utils.GetValidationErrors(err))
	}

	role := req.Role
	if role == "" {
		role = models.RoleBuyer
	}

	user := &models.User{
		Name:   strings.TrimSpace(req.Name),
		Email:  strings.ToLower(strings.TrimSpace(req.Email)),
		Role:   role,
		Active: true,
	}
	if err := user.SetPassword(req.Password); err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var store *models.Store
	err := s.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return utils.NewConflictError("user with this email already exists")
			}
			return fmt.Errorf("failed to create user: %w", err)
		}

		if !user.Role.CanSell() {
			return nil
		}

		storeName := strings.TrimSpace(req.StoreName)
		if storeName == "" {
			storeName = fmt.Sprintf("Tienda de %s", user.Name)
		}

		var err error
		store, err = createStoreWithUniqueSlug(tx, &models.Store{
			UserID: user.ID,
			Name:   storeName,
			Sector: req.Sector,
			Active: true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"role":    user.Role,
	}).Info("User registered")

	return s.issue(user, store)
}

// createStoreWithUniqueSlug retries with -2, -3, … suffixes on slug
// collisions. Each attempt runs in a savepoint so a failed insert does not
// abort the enclosing transaction.
func createStoreWithUniqueSlug(tx *gorm.DB, store *models.Store) (*models.Store, error) {
	base := utils.Slugify(store.Name)
	if base == "" {
		base = "tienda"
	}

	for n := 1; n <= maxSlugAttempts; n++ {
		store.Slug = utils.SlugCandidate(base, n)

		err := tx.Transaction(func(sp *gorm.DB) error {
			return sp.Create(store).Error
		})
		if err == nil {
			return store, nil
		}
		if !database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("failed to create store: %w", err)
		}

		var nameTaken int64
		if err := tx.Model(&models.Store{}).Where("name = ?", store.Name).Count(&nameTaken).Error; err != nil {
			return nil, fmt.Errorf("failed to check store name: %w", err)
		}
		if nameTaken > 0 {
			return nil, utils.NewConflictError("store name already taken")
		}
	}

	return nil, utils.NewConflictError("could not allocate a unique store slug")
}

func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, utils.NewValidationError("invalid credentials payload", utils.GetValidationErrors(err))
	}

	var user models.User
	err := s.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	if err := user.CheckPassword(req.Password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, utils.NewAuthenticationError("account is inactive")
	}

	return s.issue(&user, nil)
}

// Authenticate resolves a bearer token to an active user.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, utils.NewAuthenticationError("missing token")
	}

	claims, err := utils.ValidateJWT(token)
	if err != nil {
		return nil, utils.NewAuthenticationError("invalid token")
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, utils.NewAuthenticationError("invalid token subject")
	}

	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		if utils.IsKind(err, utils.KindNotFound) {
			return nil, utils.NewAuthenticationError("user no longer exists")
		}
		return nil, err
	}
	if !user.Active {
		return nil, utils.NewAuthenticationError("account is inactive")
	}
	return user, nil
}

func (s *AuthService) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Preload("Stores").First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("user")
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &user, nil
}

func (s *AuthService) issue(user *models.User, store *models.Store) (*AuthResponse, error) {
	token, err := utils.GenerateJWT(user.ID, user.Email, string(user.Role), s.cfg.JWT.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	return &AuthResponse{
		User:        user,
		Store:       store,
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   s.cfg.JWT.AccessTokenTTL * 3600,
	}, nil
}
