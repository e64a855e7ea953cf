package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"talentflex/internal/application"
	"talentflex/internal/config"
)

const tokenTypeAccess = "access"

// ErrSigningDisabled 表示服务只加载了公钥，无法签发令牌。
var ErrSigningDisabled = errors.New("token signing disabled: no private key loaded")

// AuthService 负责 JWT 的签发与校验。登录流程由外部身份系统负责，这里只认令牌。
type AuthService struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	tokenTTL   time.Duration
}

// TokenClaims 表示 JWT 中的业务字段，便于中间件读取调用方信息。
type TokenClaims struct {
	UserID    string           `json:"user_id"`
	Role      application.Role `json:"role"`
	TokenType string           `json:"token_type"`
	jwt.RegisteredClaims
}

// NewAuthService 解析 PEM 密钥并构造服务实例。privateKeyPEM 可为空，此时只能校验令牌。
func NewAuthService(privateKeyPEM, publicKeyPEM []byte, tokenTTL time.Duration) (*AuthService, error) {
	if len(publicKeyPEM) == 0 {
		return nil, errors.New("public key pem is required")
	}
	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse rsa public key: %w", err)
	}

	s := &AuthService{publicKey: publicKey, tokenTTL: tokenTTL}
	if len(privateKeyPEM) > 0 {
		privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse rsa private key: %w", err)
		}
		s.privateKey = privateKey
	}
	return s, nil
}

// NewFromConfig 从配置的路径读取密钥。
func NewFromConfig(cfg config.AuthConfig) (*AuthService, error) {
	publicPEM, err := os.ReadFile(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read jwt public key: %w", err)
	}
	var privatePEM []byte
	if path := strings.TrimSpace(cfg.PrivateKeyPath); path != "" {
		privatePEM, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read jwt private key: %w", err)
		}
	}
	return NewAuthService(privatePEM, publicPEM, cfg.TokenTTL)
}

// GenerateToken 为调用方签发访问令牌。
func (s *AuthService) GenerateToken(userID string, role application.Role) (string, error) {
	if s.privateKey == nil {
		return "", ErrSigningDisabled
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("user id is required")
	}
	if _, err := application.ParseRole(string(role)); err != nil {
		return "", err
	}

	now := time.Now()
	claims := TokenClaims{
		UserID:    userID,
		Role:      role,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	return s.signClaims(claims)
}

// ValidateToken 解析并验证 JWT。
func (s *AuthService) ValidateToken(tokenString string) (*TokenClaims, error) {
	if tokenString == "" {
		return nil, errors.New("token string is empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return s.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, fmt.Errorf("invalid token type: %s", claims.TokenType)
	}
	if _, err := application.ParseRole(string(claims.Role)); err != nil {
		return nil, fmt.Errorf("invalid token role: %w", err)
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, errors.New("token has no user id")
	}

	return claims, nil
}

func (s *AuthService) signClaims(claims TokenClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// TokenTTL 暴露令牌有效期。
func (s *AuthService) TokenTTL() time.Duration {
	return s.tokenTTL
}
