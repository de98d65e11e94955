package wallet

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Service 负责钱包会话：连接时为地址签发会话令牌，请求时校验令牌。
// 这里不触碰链上状态——"已连接"的唯一含义是持有一张未过期的有效令牌。
type Service struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	sessionTTL time.Duration
}

// SessionClaims 表示会话令牌中的业务字段。
type SessionClaims struct {
	Address string `json:"address"`
	jwt.RegisteredClaims
}

// NewService 解析 PEM 密钥并构造服务实例。
func NewService(privateKeyPEM, publicKeyPEM []byte, sessionTTL time.Duration) (*Service, error) {
	if len(privateKeyPEM) == 0 {
		return nil, errors.New("private key pem is required")
	}
	if len(publicKeyPEM) == 0 {
		return nil, errors.New("public key pem is required")
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse rsa private key: %w", err)
	}
	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse rsa public key: %w", err)
	}

	return &Service{
		privateKey: privateKey,
		publicKey:  publicKey,
		sessionTTL: sessionTTL,
	}, nil
}

// Connect 校验地址并签发会话令牌，返回规范化后的地址与令牌。
func (s *Service) Connect(address string) (string, string, error) {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return "", "", err
	}

	now := time.Now()
	claims := SessionClaims{
		Address: normalized,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   normalized,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.sessionTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", "", fmt.Errorf("sign session token: %w", err)
	}
	return normalized, signed, nil
}

// ValidateToken 解析并验证会话令牌。
func (s *Service) ValidateToken(tokenString string) (*SessionClaims, error) {
	if tokenString == "" {
		return nil, errors.New("token string is empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return s.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Address == "" {
		return nil, errors.New("token carries no address")
	}
	return claims, nil
}

// SessionTTL 暴露会话有效期。
func (s *Service) SessionTTL() time.Duration {
	return s.sessionTTL
}
