package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/williamtheodoruswijaya/mood-bridge-v2/tools/errs"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/tools/security"
)

// ---- context key ----
// 后续 handler 统一用这俩 key 读取
const (
	CtxTokenKey    = "authorization" // string
	CtxIdentityKey = "identity"      // usermodel.Identity
)

type Options struct {
	HeaderToken string // 默认 "authorization"
	Verify      security.Options
}

func DefaultOptions(secret []byte) *Options {
	return &Options{
		HeaderToken: CtxTokenKey,
		Verify:      security.DefaultOptions(secret),
	}
}

// Middleware 校验 Authorization: Bearer xxx，失败返回 401 {code,message}。
func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions(nil)
	}
	return func(c *gin.Context) {
		token := bearer(c.GetHeader(opts.HeaderToken))
		if token == "" {
			abort(c, "missing bearer token")
			return
		}
		ok, err := security.Verify(opts.Verify, token)
		if err != nil {
			abort(c, err.Error())
			return
		}
		c.Set(CtxTokenKey, token)
		c.Set(CtxIdentityKey, ok.Identity)
		c.Next()
	}
}

func bearer(h string) string {
	h = strings.TrimSpace(h)
	if len(h) > len("bearer ") && strings.EqualFold(h[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(h[len("bearer "):])
	}
	return ""
}

func abort(c *gin.Context, reason string) {
	e := errs.ErrIdentityInvalid.WithDetail(reason)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    e.Code,
		"message": e.Error(),
	})
}
