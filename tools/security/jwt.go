package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSubject    = errors.New("token has no numeric subject")
)

// Verifier turns a credential into a trusted user id.
type Verifier interface {
	Verify(ctx context.Context, credential string) (int64, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, credential string) (int64, error)

func (f VerifierFunc) Verify(ctx context.Context, credential string) (int64, error) {
	return f(ctx, credential)
}

// Options 控制签名与TTL等参数。
type Options struct {
	Secret []byte        // HMAC key
	Alg    string        // HS256/HS384/HS512 (default HS256)
	TTL    time.Duration // token lifetime (default 24h)
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 24 * time.Hour}
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Generate signs a token whose "sub" claim is the decimal user id.
func Generate(opts Options, userID int64) (token string, expireAt time.Time, err error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}

	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign token")
	}
	return signed, exp, nil
}

// JWTVerifier validates HMAC-signed tokens and reads the user id from "sub".
type JWTVerifier struct {
	opts Options
}

func NewJWTVerifier(opts Options) (*JWTVerifier, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("jwt secret is empty")
	}
	if _, err := signingMethod(opts.Alg); err != nil {
		return nil, err
	}
	return &JWTVerifier{opts: opts}, nil
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (int64, error) {
	method, _ := signingMethod(v.opts.Alg)
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		// 仅允许 HMAC 家族
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return v.opts.Secret, nil
	}, jwtlib.WithValidMethods([]string{method.Alg()}))
	if err != nil {
		return 0, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if !parsed.Valid {
		return 0, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return 0, errors.Wrap(ErrInvalidToken, "claims type mismatch")
	}
	return subjectID(claims)
}

// subjectID reads a positive user id from "sub", either a decimal string
// or a JSON number.
func subjectID(claims jwtlib.MapClaims) (int64, error) {
	var id int64
	switch sub := claims["sub"].(type) {
	case string:
		n, err := strconv.ParseInt(sub, 10, 64)
		if err != nil {
			return 0, ErrNoSubject
		}
		id = n
	case float64:
		if sub != float64(int64(sub)) {
			return 0, ErrNoSubject
		}
		id = int64(sub)
	default:
		return 0, ErrNoSubject
	}
	if id <= 0 {
		return 0, errors.Wrapf(ErrNoSubject, "user id %d", id)
	}
	return id, nil
}

// LegacyIDVerifier accepts an all-digit credential as a raw user id and
// hands anything else to Next. It exists for the old direct-connect clients
// and is only installed when explicitly enabled.
type LegacyIDVerifier struct {
	Next Verifier
}

func (v LegacyIDVerifier) Verify(ctx context.Context, credential string) (int64, error) {
	if isDigits(credential) {
		id, err := strconv.ParseInt(credential, 10, 64)
		if err == nil && id > 0 {
			return id, nil
		}
	}
	if v.Next == nil {
		return 0, ErrInvalidToken
	}
	return v.Next.Verify(ctx, credential)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
