package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrInvalid = errors.New("bad token")
	ErrExpired = errors.New("expired")
)

type Kind string

const (
	Access  Kind = "access"
	Refresh Kind = "refresh"
)

// Claims never carry a role: roles are looked up per request.
type Claims struct {
	Email     string `json:"email"`
	SessionID string `json:"sid"`
	Kind      Kind   `json:"typ"`
	jwt.RegisteredClaims
}

type Manager struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewManager(secret string, accessTTL, refreshTTL time.Duration) *Manager {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	return &Manager{secret: []byte(secret), issuer: "website-assistant", accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}
}

func (m *Manager) TTL(k Kind) time.Duration {
	if k == Refresh {
		return m.refreshTTL
	}
	return m.accessTTL
}

// Sign issues an HS256 token of the given kind for a user session.
func (m *Manager) Sign(userID, email, sessionID string, k Kind) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.TTL(k))
	c := Claims{
		Email:     email,
		SessionID: sessionID,
		Kind:      k,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return s, exp, nil
}

// Verify checks signature, expiry and kind.
func (m *Manager) Verify(tok string, k Kind) (*Claims, error) {
	var c Claims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(tok, &c, func(*jwt.Token) (any, error) { return m.secret, nil })
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	if c.Kind != k || c.Subject == "" || c.SessionID == "" {
		return nil, ErrInvalid
	}
	return &c, nil
}
