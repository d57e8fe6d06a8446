package middleware

import (
	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	// Auth runs before the handler when set.
	Auth gin.HandlerFunc
}

func (o RouteOpt) chain(handler gin.HandlerFunc) []gin.HandlerFunc {
	if o.Auth == nil {
		return []gin.HandlerFunc{handler}
	}
	return []gin.HandlerFunc{o.Auth, handler}
}

// 封装 POST
func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.POST(path, opt.chain(handler)...)
}

// 封装 GET
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.GET(path, opt.chain(handler)...)
}
