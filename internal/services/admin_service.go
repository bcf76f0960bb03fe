package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/trendydresses/payment-recon/internal/infrastructure/auth"
	"github.com/trendydresses/payment-recon/internal/infrastructure/redis"
	pkgerrors "github.com/trendydresses/payment-recon/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"
)

// AdminService authenticates the single operator account configured via
// environment. Tokens are cached in Redis so the middleware can revoke them.
type AdminService interface {
	Login(ctx context.Context, username, password string) (string, error)
}

type adminService struct {
	redisClient       redis.RedisClient
	jwtSecret         string
	adminUsername     string
	adminPasswordHash string
}

func NewAdminService(redisClient redis.RedisClient, jwtSecret, adminUsername, adminPasswordHash string) *adminService {
	return &adminService{
		redisClient:       redisClient,
		jwtSecret:         jwtSecret,
		adminUsername:     adminUsername,
		adminPasswordHash: adminPasswordHash,
	}
}

func (s *adminService) Login(ctx context.Context, username, password string) (string, error) {
	tracer := otel.Tracer("admin-service")
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	if username != s.adminUsername {
		span.SetStatus(codes.Error, "unknown username")
		slog.Error("admin login failed", "username", username)
		return "", pkgerrors.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(s.adminPasswordHash), []byte(password)); err != nil {
		span.SetStatus(codes.Error, "invalid password")
		slog.Error("invalid admin password", "username", username)
		return "", pkgerrors.ErrInvalidCredentials
	}

	token, err := auth.GenerateJWT(username, s.jwtSecret, time.Hour)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token generation failed")
		slog.Error("failed to generate JWT", "error", err)
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	if err := s.redisClient.Set(ctx, fmt.Sprintf("admin:%s:token", username), token, time.Hour); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to cache token")
		slog.Error("failed to cache admin token", "username", username, "error", err)
		return "", fmt.Errorf("failed to store session: %w", err)
	}

	slog.Info("admin logged in", "username", username)
	return token, nil
}
