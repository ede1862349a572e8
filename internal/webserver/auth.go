package webserver

import (
	"time"

	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"
)

// Claims carried by API bearer tokens.
type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) UserIDInt() (int64, error) {
	return cast.ToInt64E(c.UserID)
}

// TokenClaims returns the claims of the validated request token.
func TokenClaims(c echo.Context) (*Claims, bool) {
	token, ok := c.Get(tokenKey).(*jwt.Token)
	if !ok || token == nil {
		return nil, false
	}
	claims, ok := token.Claims.(*Claims)
	return claims, ok
}

// CurrentUser is the user loaded for the request, nil on public routes.
func CurrentUser(c echo.Context) *domain.User {
	user, _ := c.Get(UserKey).(*domain.User)
	return user
}

// IssueToken signs an HS256 token for user valid for ttl.
func IssueToken(secret string, user *domain.User, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(ttl)
	claims := &Claims{
		UserID: cast.ToString(user.ID),
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}
