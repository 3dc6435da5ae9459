package security

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

const (
	bcryptCost = 12
	// Issuer is the iss claim of every service token this process mints.
	Issuer = "brokerbridge"
)

// AuthService mints and validates the HS256 service tokens used against the remote store,
// and fingerprints user secrets before they are persisted.
type AuthService struct {
	JWTSecret string
	TokenTTL  time.Duration
	now       func() time.Time
}

func NewAuthService(secret string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &AuthService{
		JWTSecret: secret,
		TokenTTL:  ttl,
		now:       time.Now,
	}
}

// HashSecret returns a bcrypt fingerprint of secret. The secret is digested first so
// inputs longer than bcrypt's 72-byte limit are still accepted.
func (a *AuthService) HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(digest(secret), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (a *AuthService) CompareSecret(hashedSecret, secret string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedSecret), digest(secret))
}

func digest(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return []byte(hex.EncodeToString(sum[:]))
}

// GenerateToken signs a token for subject and returns it with its expiry.
func (a *AuthService) GenerateToken(subject string) (string, time.Time, error) {
	if a.JWTSecret == "" {
		return "", time.Time{}, errors.New("signing key not configured, cannot mint service token")
	}
	now := a.now()
	expiry := now.Add(a.TokenTTL)
	claims := jwt.MapClaims{
		"sub": subject,
		"iss": Issuer,
		"exp": expiry.Unix(),
		"iat": now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiry, nil
}

func (a *AuthService) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.JWTSecret), nil
	}, jwt.WithIssuer(Issuer), jwt.WithTimeFunc(a.now))

	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		sub, ok := claims["sub"].(string)
		if !ok {
			return "", errors.New("invalid token: 'sub' claim missing or not a string")
		}
		return sub, nil
	}

	return "", errors.New("invalid token")
}

// TokenSource returns an oauth2.TokenSource that reuses a minted token until shortly
// before it expires.
func (a *AuthService) TokenSource(subject string) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &serviceTokenSource{auth: a, subject: subject})
}

type serviceTokenSource struct {
	auth    *AuthService
	subject string
}

func (s *serviceTokenSource) Token() (*oauth2.Token, error) {
	signed, expiry, err := s.auth.GenerateToken(s.subject)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: signed, TokenType: "Bearer", Expiry: expiry}, nil
}
