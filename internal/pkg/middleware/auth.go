package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ManuelReschke/HandlePay/internal/pkg/apperr"
	"github.com/ManuelReschke/HandlePay/internal/pkg/config"
	"github.com/ManuelReschke/HandlePay/internal/pkg/usercontext"
)

// Dev headers honoured only when AUTH_ALLOW_INSECURE_DEV is set
const (
	HeaderDevUserID = "x-dev-user-id"
	HeaderDevEmail  = "x-dev-email"
	HeaderDevPhone  = "x-dev-phone"
	HeaderDevWallet = "x-dev-wallet"
	HeaderDevRole   = "x-dev-role"
)

// Authenticate resolves the caller from dev headers or a bearer JWT and stores
// the identity in Locals. Requests without a valid principal are rejected.
func Authenticate(cfg config.AuthConfig) fiber.Handler {
	parser := jwt.NewParser(parserOptions(cfg)...)

	return func(c *fiber.Ctx) error {
		if cfg.AllowInsecureDev {
			if sub := strings.TrimSpace(c.Get(HeaderDevUserID)); sub != "" {
				id := usercontext.Identity{
					Subject:       sub,
					Email:         strings.TrimSpace(c.Get(HeaderDevEmail)),
					Phone:         strings.TrimSpace(c.Get(HeaderDevPhone)),
					WalletAddress: strings.TrimSpace(c.Get(HeaderDevWallet)),
					Role:          strings.TrimSpace(c.Get(HeaderDevRole)),
				}
				id.IsAdmin = cfg.IsAdmin(id.Subject, id.Email, id.Role)
				usercontext.SetIdentity(c, id)
				c.Locals(usercontext.KeyAuthMode, usercontext.AuthModeDev)
				return c.Next()
			}
		}

		token := bearerToken(c)
		if token == "" {
			return apperr.UnauthorizedErr("Missing bearer token")
		}
		if cfg.JWTSecret == "" {
			return apperr.UnauthorizedErr("AUTH_JWT_SECRET is not configured")
		}

		claims := jwt.MapClaims{}
		_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			return []byte(cfg.JWTSecret), nil
		})
		if err != nil {
			log.Debugf("[Auth] Rejected bearer token: %v", err)
			if errors.Is(err, jwt.ErrTokenExpired) {
				return apperr.UnauthorizedErr("Token expired")
			}
			return apperr.UnauthorizedErr("Invalid bearer token")
		}

		id := identityFromClaims(claims)
		if !id.IsAuthenticated() {
			return apperr.UnauthorizedErr("Invalid token subject")
		}
		id.IsAdmin = cfg.IsAdmin(id.Subject, id.Email, id.Role)
		usercontext.SetIdentity(c, id)
		c.Locals(usercontext.KeyAuthMode, usercontext.AuthModeBearer)
		return c.Next()
	}
}

// RequireAdmin rejects callers that are not admins.
func RequireAdmin(c *fiber.Ctx) error {
	id := usercontext.GetIdentity(c)
	if !id.IsAuthenticated() {
		return apperr.UnauthorizedErr("Authentication required")
	}
	if !id.IsAdmin {
		return apperr.ForbiddenErr("Admin privileges required")
	}
	return c.Next()
}

func parserOptions(cfg config.AuthConfig) []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return opts
}

func bearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}

func identityFromClaims(claims jwt.MapClaims) usercontext.Identity {
	sub, _ := claims.GetSubject()
	return usercontext.Identity{
		Subject:       strings.TrimSpace(sub),
		Email:         firstClaim(claims, "email"),
		Phone:         firstClaim(claims, "phone_number", "phone"),
		WalletAddress: firstClaim(claims, "walletAddress", "wallet_address", "address"),
		Role:          firstClaim(claims, "role"),
	}
}

// firstClaim returns the first non-empty string claim among keys.
func firstClaim(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if s, ok := claims[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
