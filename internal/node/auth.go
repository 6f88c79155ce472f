package node

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/louisbranch/kiosk.market/internal/ledger"
	"github.com/louisbranch/kiosk.market/internal/platform/errors"
)

const signerKey = "signer"

// SignToken mints a short-lived HS256 submission token for a signer
// address. The subject claim carries the address.
func SignToken(secret []byte, signer ledger.Address) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   string(signer),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign submission token: %w", err)
	}
	return signed, nil
}

// requireSigner authenticates settlement submissions: a bearer token
// signed with the node's secret, whose subject is the signer address.
func (a *API) requireSigner() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			respondError(c, errors.New(errors.CodeUnauthenticated, "missing bearer token"))
			return
		}

		var claims jwt.RegisteredClaims
		token, err := jwt.ParseWithClaims(raw, &claims,
			func(*jwt.Token) (any, error) { return a.secret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		)
		if err != nil || !token.Valid {
			respondError(c, errors.Wrap(errors.CodeUnauthenticated, "invalid bearer token", err))
			return
		}
		if claims.Subject == "" {
			respondError(c, errors.New(errors.CodeUnauthenticated, "token has no subject"))
			return
		}

		c.Set(signerKey, claims.Subject)
		c.Next()
	}
}

func signerFrom(c *gin.Context) ledger.Address {
	return ledger.Address(c.GetString(signerKey))
}
