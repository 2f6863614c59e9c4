package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/google/uuid"
	"github.com/squire/backend/pkg/linktoken"
	"github.com/squire/backend/pkg/utils"
)

const linkObjectKey = "linkObject"

// TokenObject is a record a one-time link can point at. TokenFields returns
// the values the link token is bound to; changing any of them invalidates
// outstanding tokens.
type TokenObject interface {
	TokenFields() []string
}

// LinkTokenGuard implements the password-reset-link handling pattern for
// arbitrary records. A link looks like `.../:uid/:token`. On the first visit
// the real token is validated, moved into the session and the client is
// redirected to the same path with the token replaced by URLPlaceholder, so
// the secret never reaches Referer headers. Subsequent visits (and follow-up
// views using RequireSessionToken) validate against the session copy.
type LinkTokenGuard struct {
	Generator  *linktoken.Generator
	Sessions   *session.Store
	SessionKey string

	// URLPlaceholder is the sentinel that stands in for the token in the URL
	// once the token has moved into the session.
	URLPlaceholder string

	ObjectParam string // url param carrying the encoded object id
	TokenParam  string // url param carrying the token

	// Lookup resolves a decoded id to its record, or nil when it does not
	// exist. Decode and lookup failures both fold into "no object".
	Lookup func(c *fiber.Ctx, id uuid.UUID) (TokenObject, error)

	// OnInvalid renders the failure response served instead of the guarded
	// handler. Defaults to a 403 envelope.
	OnInvalid fiber.Handler
}

// RequireURLToken guards views reached directly from a link URL.
func (g *LinkTokenGuard) RequireURLToken() fiber.Handler {
	return func(c *fiber.Ctx) error {
		obj := g.urlObject(c)
		if obj == nil {
			return g.invalid(c)
		}

		token := c.Params(g.TokenParam)
		if token == g.URLPlaceholder {
			if g.checkSessionToken(c, obj) {
				c.Locals(linkObjectKey, obj)
				return c.Next()
			}
			return g.invalid(c)
		}

		if g.Generator.Check(token, obj.TokenFields()...) == nil {
			sess, err := g.Sessions.Get(c)
			if err != nil {
				return utils.Error(c, fiber.StatusInternalServerError, "session unavailable")
			}
			sess.Set(g.SessionKey, token)
			if err := sess.Save(); err != nil {
				return utils.Error(c, fiber.StatusInternalServerError, "session unavailable")
			}
			// Redirect to the same path without the token so it cannot leak
			// through the Referer header.
			return c.Redirect(strings.Replace(c.Path(), token, g.URLPlaceholder, 1), fiber.StatusFound)
		}

		return g.invalid(c)
	}
}

// RequireSessionToken guards follow-up views that run after RequireURLToken
// has stashed the token; the URL carries only the object id.
func (g *LinkTokenGuard) RequireSessionToken() fiber.Handler {
	return func(c *fiber.Ctx) error {
		obj := g.urlObject(c)
		if obj == nil || !g.checkSessionToken(c, obj) {
			return g.invalid(c)
		}
		c.Locals(linkObjectKey, obj)
		return c.Next()
	}
}

// DeleteToken removes the stored token, ending the link session.
func (g *LinkTokenGuard) DeleteToken(c *fiber.Ctx) {
	sess, err := g.Sessions.Get(c)
	if err != nil {
		return
	}
	sess.Delete(g.SessionKey)
	_ = sess.Save()
}

func (g *LinkTokenGuard) urlObject(c *fiber.Ctx) TokenObject {
	id, err := linktoken.DecodeUID(c.Params(g.ObjectParam))
	if err != nil {
		return nil
	}
	obj, err := g.Lookup(c, id)
	if err != nil || obj == nil {
		return nil
	}
	return obj
}

func (g *LinkTokenGuard) checkSessionToken(c *fiber.Ctx, obj TokenObject) bool {
	sess, err := g.Sessions.Get(c)
	if err != nil {
		return false
	}
	sessionToken, _ := sess.Get(g.SessionKey).(string)
	return g.Generator.Check(sessionToken, obj.TokenFields()...) == nil
}

func (g *LinkTokenGuard) invalid(c *fiber.Ctx) error {
	if g.OnInvalid != nil {
		return g.OnInvalid(c)
	}
	return utils.Error(c, fiber.StatusForbidden, "invalid or expired link")
}

// LinkObject returns the record the guard resolved for this request.
func LinkObject(c *fiber.Ctx) TokenObject {
	obj, _ := c.Locals(linkObjectKey).(TokenObject)
	return obj
}
