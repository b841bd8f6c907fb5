package httpx

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/MikeMC777/tienda-ordenes/internal/order"
)

const (
	identityKey    = "identity"
	AdminKeyHeader = "X-Admin-Key"
)

// Auth resolves the caller identity. Customers present an HS256 bearer token
// whose subject is their user id; admins present the key whose bcrypt hash is
// configured.
type Auth struct {
	secret       []byte
	adminKeyHash []byte
}

func NewAuth(jwtSecret, adminKeyHash string) *Auth {
	return &Auth{secret: []byte(jwtSecret), adminKeyHash: []byte(adminKeyHash)}
}

// HashAdminKey returns the bcrypt hash to configure as ADMIN_KEY_HASH.
func HashAdminKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(b), err
}

func (a *Auth) checkAdminKey(key string) bool {
	if len(a.adminKeyHash) == 0 || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.adminKeyHash, []byte(key)) == nil
}

func (a *Auth) subject(tokenStr string) (string, bool) {
	if len(a.secret) == 0 || tokenStr == "" {
		return "", false
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return "", false
	}
	sub, _ := claims["sub"].(string)
	sub = strings.TrimSpace(sub)
	return sub, sub != ""
}

// RequireCustomer accepts a bearer token and stores a customer Identity.
func (a *Auth) RequireCustomer() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, ok := a.subject(bearerToken(c.GetHeader("Authorization")))
		if !ok {
			abortUnauthenticated(c, "bearer token missing or invalid")
			return
		}
		c.Set(identityKey, order.Identity{UserID: sub})
		c.Next()
	}
}

// RequireAdmin accepts the admin key and stores an unscoped Identity.
func (a *Auth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.checkAdminKey(c.GetHeader(AdminKeyHeader)) {
			abortUnauthenticated(c, "admin key missing or invalid")
			return
		}
		c.Set(identityKey, order.Identity{Admin: true})
		c.Next()
	}
}

// IdentityFrom returns the identity stored by RequireCustomer or RequireAdmin.
func IdentityFrom(c *gin.Context) order.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(order.Identity)
	return id
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func abortUnauthenticated(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorBody{
		Error:     "unauthenticated",
		Message:   msg,
		RequestID: RID(c),
	})
}
