package middleware

import (
	jwtPkg "VoicedeskGolang/pkg/jwt"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const OpsTokenSecret = "JWT_OPS_TOKEN_SECRET"

// NewOpsTokenMiddleware guards the operations surface (trace inspection, the live
// monitor, purge triggers). Turn webhooks are authenticated upstream by the
// telephony gateway and do not pass through here.
func (m *middleware) NewOpsTokenMiddleware(ctx *fiber.Ctx) error {
	token, err := jwtPkg.VerifyTokenHeader(ctx, OpsTokenSecret)
	if err != nil || !token.Valid {
		m.log.WithFields(logrus.Fields{
			"path":      ctx.Path(),
			"client_ip": ctx.IP(),
		}).Warn("Rejected ops request with invalid token")
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized, access token invalid or expired",
		})
	}

	return ctx.Next()
}
