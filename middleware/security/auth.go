package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"PPRealtime/tools/errs"

	"github.com/gin-gonic/gin"
)

// context key
const PPCtxAuthKey = "authorization" // string

var ErrUnauthorized = errs.NewCodeError(http.StatusUnauthorized, "unauthorized")

type Options struct {
	// 读取哪个请求头
	HeaderToken               string // 默认 "authorization"
	EnableAuthorizationBearer bool   // 默认 true

	// Secret is the shared bearer secret. Empty rejects every request.
	Secret string
}

func DefaultOptions(secret string) *Options {
	return &Options{
		HeaderToken:               PPCtxAuthKey,
		EnableAuthorizationBearer: true,
		Secret:                    secret,
	}
}

// Middleware guards service-to-service routes with a shared secret taken
// from HeaderToken or "Authorization: Bearer ...".
func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions("")
	}
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))

		// 兼容 Authorization: Bearer xxx
		if opts.EnableAuthorizationBearer {
			if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
				if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
					token = strings.TrimSpace(authz[len("bearer "):])
				}
			}
		}

		if token == "" || opts.Secret == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(opts.Secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrUnauthorized)
			return
		}
		c.Set(PPCtxAuthKey, token)
		c.Next()
	}
}
