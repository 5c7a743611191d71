package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huangang/backoffice/backend/internal/models"
	"github.com/huangang/backoffice/backend/internal/settings"
	"github.com/huangang/backoffice/backend/internal/utils"
	"github.com/huangang/backoffice/backend/pkg/logger"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserDisabled       = errors.New("user is disabled")
)

type AuthService struct {
	db       *gorm.DB
	settings *SettingsService
}

func NewAuthService(db *gorm.DB, settingsSvc *SettingsService) *AuthService {
	return &AuthService{db: db, settings: settingsSvc}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token    string       `json:"token"`
	User     *models.User `json:"user"`
	ExpireAt time.Time    `json:"expire_at"`
}

// ConfigureJWT installs the signing secret and algorithm from the auth
// settings domain. auth.jwt_secret may be a vault reference; an empty value
// falls back to the configured secret. A failed secret lookup is returned.
func (s *AuthService) ConfigureJWT(ctx context.Context, fallbackSecret string) error {
	secret, err := s.settings.ResolveSecret(ctx, settings.DomainAuth, settings.AuthJWTSecret)
	if err != nil {
		return fmt.Errorf("resolve jwt secret: %w", err)
	}
	if secret == "" {
		secret = fallbackSecret
	}
	utils.SetJWTSecret(secret)

	algorithm := s.settings.String(ctx, settings.DomainAuth, settings.AuthJWTAlgorithm)
	if err := utils.SetJWTAlgorithm(algorithm); err != nil {
		return err
	}
	logger.Infof("[Auth] JWT configured (algorithm=%s)", algorithm)
	return nil
}

// Login authenticates a user and returns a JWT token
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", req.Username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, ErrUserDisabled
	}
	if !utils.CheckPassword(req.Password, user.Password) {
		return nil, ErrInvalidCredentials
	}

	ttl := time.Duration(s.settings.Int(ctx, settings.DomainAuth, settings.AuthAccessTTLMinutes)) * time.Minute
	algorithm := s.settings.String(ctx, settings.DomainAuth, settings.AuthJWTAlgorithm)
	token, err := utils.GenerateTokenWithAlgorithm(user.ID, user.Username, user.Role, ttl, algorithm)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&user).Update("last_login", now).Error; err != nil {
		logger.Warn().Err(err).Uint("user_id", user.ID).Msg("[Auth] failed to update last login")
	}
	user.LastLogin = &now

	return &LoginResponse{
		Token:    token,
		User:     &user,
		ExpireAt: now.Add(ttl),
	}, nil
}

// GetUserByID retrieves a user by ID
func (s *AuthService) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// CreateAdminIfNotExists creates the default admin user when no admin exists
func (s *AuthService) CreateAdminIfNotExists(username, password string) error {
	var count int64
	if err := s.db.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashedPassword, err := utils.HashPassword(password)
	if err != nil {
		return err
	}

	admin := models.User{
		Username: username,
		Password: hashedPassword,
		Nickname: "Administrator",
		Role:     models.RoleAdmin,
		IsActive: true,
	}
	if err := s.db.Create(&admin).Error; err != nil {
		return err
	}
	logger.Infof("[Auth] Created default admin user %q", username)
	return nil
}

type CreateUserRequest struct {
	Username string `json:"username" binding:"required,max=100"`
	Password string `json:"password" binding:"required,min=8"`
	Email    string `json:"email" binding:"omitempty,email,max=255"`
	Nickname string `json:"nickname" binding:"max=100"`
	Role     string `json:"role" binding:"omitempty,oneof=admin user"`
}

// CreateUser adds an operator account with a hashed password.
func (s *AuthService) CreateUser(req *CreateUserRequest) (*models.User, error) {
	var count int64
	if err := s.db.Model(&models.User{}).Where("username = ?", req.Username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: username %q is taken", ErrConflict, req.Username)
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	role := req.Role
	if role == "" {
		role = models.RoleUser
	}
	user := &models.User{
		Username: req.Username,
		Password: hashedPassword,
		Email:    req.Email,
		Nickname: req.Nickname,
		Role:     role,
		IsActive: true,
	}
	if err := s.db.Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

func (s *AuthService) ChangePassword(userID uint, req *ChangePasswordRequest) error {
	user, err := s.GetUserByID(userID)
	if err != nil {
		return err
	}

	if !utils.CheckPassword(req.OldPassword, user.Password) {
		return errors.New("incorrect old password")
	}

	hashedPassword, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	return s.db.Model(user).Update("password", hashedPassword).Error
}
