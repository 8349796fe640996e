package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Role classifies administrative access to the trunk server.
type Role string

// Roles.
const (
	RoleNone     Role = "none"
	RoleOperator Role = "operator"
)

// RoleExtractor resolves the administrative role of a request.
type RoleExtractor interface {
	ExtractRole(r *http.Request) Role
}

// HeaderRoleExtractor reads the role from the X-Trunk-Role header.
// Development mode only; it trusts whatever the client sends.
type HeaderRoleExtractor struct{}

// ExtractRole implements RoleExtractor.
func (HeaderRoleExtractor) ExtractRole(r *http.Request) Role {
	if strings.EqualFold(r.Header.Get("X-Trunk-Role"), string(RoleOperator)) {
		return RoleOperator
	}
	return RoleNone
}

// JWTRoleConfig configures the JWT-based role extractor for operator
// routes.
type JWTRoleConfig struct {
	// RoleClaim is the JWT claim path containing the role.
	// Supports dot-notation for nested claims. Default: "role".
	RoleClaim string

	// OperatorRoleValue is the claim value mapping to RoleOperator.
	// Default: "operator".
	OperatorRoleValue string

	// PublicKeyPath is the path to a PEM-encoded RSA public key for RS256
	// verification. If empty, tokens are parsed but NOT verified (only
	// acceptable behind a trusted proxy).
	PublicKeyPath string

	// Issuer is the expected iss claim. Empty skips the check.
	Issuer string

	// Audience is the expected aud claim. Empty skips the check.
	Audience string

	Logger *slog.Logger
}

// jwtRoleExtractor resolves the role from a JWT in the X-Trunk-Admin-Token
// header. Session bearer tokens keep the Authorization header to
// themselves, so the admin JWT travels on its own header.
type jwtRoleExtractor struct {
	cfg       JWTRoleConfig
	publicKey *rsa.PublicKey
}

// NewJWTRoleExtractor creates a RoleExtractor that reads the role from a
// JWT. Missing or invalid tokens map to RoleNone, so operator access is
// deny-by-default.
func NewJWTRoleExtractor(cfg JWTRoleConfig) (RoleExtractor, error) {
	if cfg.RoleClaim == "" {
		cfg.RoleClaim = "role"
	}
	if cfg.OperatorRoleValue == "" {
		cfg.OperatorRoleValue = string(RoleOperator)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var publicKey *rsa.PublicKey
	if cfg.PublicKeyPath != "" {
		keyData, err := os.ReadFile(cfg.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read JWT public key from %s: %w", cfg.PublicKeyPath, err)
		}
		block, _ := pem.Decode(keyData)
		if block == nil {
			return nil, fmt.Errorf("decode PEM block from %s", cfg.PublicKeyPath)
		}
		parsedKey, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		rsaKey, ok := parsedKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is not RSA (got %T)", parsedKey)
		}
		publicKey = rsaKey
		cfg.Logger.Info("JWT role extractor: using RS256 verification", "keyPath", cfg.PublicKeyPath)
	} else {
		cfg.Logger.Warn("JWT role extractor: no public key configured, tokens parsed without verification (trusted proxy mode)")
	}

	return &jwtRoleExtractor{cfg: cfg, publicKey: publicKey}, nil
}

// ExtractRole implements RoleExtractor.
func (e *jwtRoleExtractor) ExtractRole(r *http.Request) Role {
	tokenString := strings.TrimSpace(r.Header.Get("X-Trunk-Admin-Token"))
	if tokenString == "" {
		return RoleNone
	}

	claims, err := e.parseClaims(tokenString)
	if err != nil {
		e.cfg.Logger.Debug("JWT parse failed, denying operator role", "error", err)
		return RoleNone
	}

	return roleFromClaims(claims, e.cfg.RoleClaim, e.cfg.OperatorRoleValue)
}

func (e *jwtRoleExtractor) parseClaims(tokenString string) (jwt.MapClaims, error) {
	parserOpts := []jwt.ParserOption{}
	if e.cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(e.cfg.Issuer))
	}
	if e.cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(e.cfg.Audience))
	}

	var token *jwt.Token
	var err error

	if e.publicKey != nil {
		token, err = jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return e.publicKey, nil
		}, parserOpts...)
	} else {
		parser := jwt.NewParser(parserOpts...)
		token, _, err = parser.ParseUnverified(tokenString, jwt.MapClaims{})
	}
	if err != nil {
		return nil, fmt.Errorf("JWT parse error: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	return claims, nil
}

// roleFromClaims walks a dot-notation claim path and matches operatorValue
// against a string or string-array claim.
func roleFromClaims(claims jwt.MapClaims, claimPath, operatorValue string) Role {
	parts := strings.Split(claimPath, ".")
	var current interface{} = map[string]interface{}(claims)

	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return RoleNone
		}
		current, ok = m[part]
		if !ok {
			return RoleNone
		}
	}

	if strVal, ok := current.(string); ok {
		if strings.EqualFold(strVal, operatorValue) {
			return RoleOperator
		}
		return RoleNone
	}

	if arrVal, ok := current.([]interface{}); ok {
		for _, v := range arrVal {
			if s, ok := v.(string); ok && strings.EqualFold(s, operatorValue) {
				return RoleOperator
			}
		}
	}

	return RoleNone
}
