package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	midsec "github.com/williamtheodoruswijaya/mood-bridge-v2/middleware/security"
)

// RouteOpt 路由选项
type RouteOpt struct {
	IsAuth bool
	Auth   *midsec.Options // IsAuth 时使用，nil 走默认
}

func (o RouteOpt) chain(h gin.HandlerFunc) []gin.HandlerFunc {
	if !o.IsAuth {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{midsec.Middleware(o.Auth), h}
}

func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.Handle(http.MethodPost, path, opt.chain(handler)...)
}

func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.Handle(http.MethodGet, path, opt.chain(handler)...)
}
