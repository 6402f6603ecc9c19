package service

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/MorseWayne/shop_fulfillment/internal/config"
	"github.com/MorseWayne/shop_fulfillment/internal/domain"
)

// JWT相关错误定义
var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenNotReady = errors.New("token used before valid")
)

const accessTokenType = "access"

// Claims 定义JWT载荷结构，与用户服务签发的访问令牌一致
type Claims struct {
	UserID   int64           `json:"user_id"`
	Username string          `json:"username"`
	Role     domain.UserRole `json:"role"`
	Type     string          `json:"type"`
	jwt.RegisteredClaims
}

// JWTService 校验访问令牌并解析调用方身份
type JWTService interface {
	ValidateAccessToken(tokenString string) (*domain.Principal, error)
	// IssueAccessToken 签发访问令牌，供运维工具与测试使用
	IssueAccessToken(p *domain.Principal) (string, error)
}

type jwtService struct {
	cfg    config.JWTConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewJWTService 创建JWT服务实例
func NewJWTService(cfg config.JWTConfig, logger *zap.Logger) JWTService {
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	return &jwtService{cfg: cfg, logger: logger, now: time.Now}
}

func (s *jwtService) IssueAccessToken(p *domain.Principal) (string, error) {
	now := s.now()
	claims := &Claims{
		UserID:   p.UserID,
		Username: p.Username,
		Role:     p.Role,
		Type:     accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenTTL)),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.cfg.Issuer,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return token, nil
}

// ValidateAccessToken 验证访问令牌
func (s *jwtService) ValidateAccessToken(tokenString string) (*domain.Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		if errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, ErrTokenNotReady
		}
		s.logger.Warn("token validation failed", zap.Error(err))
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != accessTokenType {
		s.logger.Warn("token type mismatch", zap.String("actual", claims.Type))
		return nil, ErrInvalidToken
	}
	if s.cfg.Issuer != "" && claims.Issuer != s.cfg.Issuer {
		s.logger.Warn("token issuer mismatch",
			zap.String("expected", s.cfg.Issuer),
			zap.String("actual", claims.Issuer),
		)
		return nil, ErrInvalidToken
	}
	if claims.UserID <= 0 {
		return nil, ErrInvalidToken
	}

	return &domain.Principal{UserID: claims.UserID, Username: claims.Username, Role: claims.Role}, nil
}
