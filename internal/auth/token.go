// Package auth はトークン発行・検証、パスワードハッシュ、および認証ステップを提供する。
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningAlgorithm はトークン署名に使用する唯一のアルゴリズム。
const SigningAlgorithm = "HS256"

// ErrInvalidToken は署名不正・形式誤り・期限切れのいずれかでトークンが無効であることを表す。
var ErrInvalidToken = errors.New("invalid token")

// TokenService はプロセス共通の秘密鍵で署名されたトークンを発行・検証する。
type TokenService struct {
	secret []byte
	expiry time.Duration
}

// NewTokenService はTokenServiceを生成する。
func NewTokenService(secret string, expiry time.Duration) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		expiry: expiry,
	}
}

// Sign はclaimsに発行時刻と有効期限を付与して署名したトークンを返す。
func (s *TokenService) Sign(claims map[string]any) (string, error) {
	now := time.Now()

	mc := jwt.MapClaims{}
	for k, v := range claims {
		mc[k] = v
	}
	mc["iat"] = now.Unix()
	mc["exp"] = now.Add(s.expiry).Unix()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return token, nil
}

// Verify はトークンの署名と有効期限を検証し、claimsを返す。
// 失敗した場合は原因を含めてErrInvalidTokenをラップしたエラーを返す。
func (s *TokenService) Verify(tokenString string) (map[string]any, error) {
	claims := jwt.MapClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{SigningAlgorithm}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
