package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	mw "github.com/GNGRRNNR/tiger-claw-timing/middleware"
)

// TokenLifetime covers one race day.
const TokenLifetime = 12 * time.Hour

type credentials struct {
	Username string `json:"username"`
	Pin      string `json:"pin"`
}

// HashPin validates username/PIN input and returns a bcrypt hash for storage.
func HashPin(username, pin string) (string, error) {
	if strings.TrimSpace(username) == "" {
		return "", errors.New("username is required")
	}
	if strings.TrimSpace(pin) == "" {
		return "", errors.New("pin is required")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return string(hashed), nil
}

// Signin validates operator credentials and returns a JWT for this station.
func (h *Handler) Signin(c echo.Context) error {
	var creds credentials
	if err := c.Bind(&creds); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	creds.Username = strings.TrimSpace(creds.Username)

	op, err := h.session.Store.Operator(c.Request().Context(), creds.Username)
	if err != nil {
		zap.L().Warn("signin lookup failed", zap.String("operator", creds.Username), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "incorrect username or pin")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.Pin), []byte(creds.Pin)); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	claims := &mw.Claims{
		Operator:     op.Username,
		OperatorHash: mw.OperatorHash(op.Username, h.JWTKey),
		Checkpoint:   h.session.Config().Checkpoint,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(TokenLifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(h.JWTKey)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]string{"token": tokenString})
}
