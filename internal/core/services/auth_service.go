package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// OperatorRole gates what an admin API caller may do.
type OperatorRole string

const (
	RoleViewer    OperatorRole = "viewer"
	RoleModerator OperatorRole = "moderator"
	RoleHost      OperatorRole = "host"
)

var roleLevels = map[OperatorRole]int{
	RoleViewer:    1,
	RoleModerator: 2,
	RoleHost:      3,
}

// AuthService issues and checks operator tokens for the admin API.
type AuthService interface {
	GenerateToken(operator string, role OperatorRole) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	CheckPermission(claims *Claims, required OperatorRole) error
}

type Claims struct {
	Operator string       `json:"operator"`
	Role     OperatorRole `json:"role"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewAuthService(jwtSecret string, tokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

func (s *authService) GenerateToken(operator string, role OperatorRole) (string, error) {
	if _, ok := roleLevels[role]; !ok {
		return "", ErrUnauthorized
	}

	now := time.Now()
	claims := &Claims{
		Operator: operator,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

func (s *authService) CheckPermission(claims *Claims, required OperatorRole) error {
	if claims == nil {
		return ErrUnauthorized
	}
	if roleLevels[claims.Role] < roleLevels[required] {
		return ErrUnauthorized
	}
	return nil
}
