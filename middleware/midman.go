package middleware

import (
	"net/http"
	"sync"
	"time"

	"PPRealtime/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MiddlewareManager 可以自由注册/注销中间件
type MiddlewareManager struct {
	mu   sync.RWMutex
	mids []gin.HandlerFunc
}

// NewManager 创建新的实例
func NewManager(mids ...gin.HandlerFunc) *MiddlewareManager {
	return &MiddlewareManager{mids: mids}
}

// Add 注册一个中间件
func (m *MiddlewareManager) Add(h gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = append(m.mids, h)
}

// Clear 清空全部中间件
func (m *MiddlewareManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = nil
}

// Use 返回一个 gin.HandlerFunc，作为总控挂载到 Engine 上
func (m *MiddlewareManager) Use() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.mu.RLock()
		handlers := append([]gin.HandlerFunc{}, m.mids...) // 拷贝一份快照
		m.mu.RUnlock()

		for _, h := range handlers {
			h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}

// Logger logs one line per request. WebSocket upgrades are logged when the
// session ends.
func Logger(l *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("remote", c.ClientIP()))
	}
}

// Recovery answers 500 instead of crashing the process.
func Recovery(l *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				l.Error("http handler panic",
					zap.String("path", c.Request.URL.Path), zap.Any("panic", r), zap.Stack("stack"))
				if !c.Writer.Written() {
					c.AbortWithStatusJSON(http.StatusInternalServerError, errs.ErrPanic(r))
				} else {
					c.Abort()
				}
			}
		}()
		c.Next()
	}
}
