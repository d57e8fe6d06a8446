package chat

import (
	"context"
	"net/http"

	"PPRealtime/global/config"
	"PPRealtime/logger"
	"PPRealtime/middleware"
	"PPRealtime/middleware/security"
	"PPRealtime/service/ingest"
	"PPRealtime/service/realtime/registry"
	"PPRealtime/service/realtime/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Presence answers cluster-wide presence, e.g. storage.PresenceStore.
type Presence interface {
	Lookup(ctx context.Context, userID int64) (nodeID string, online bool, err error)
}

type Deps struct {
	Registry *registry.Registry
	// Legacy serves /ws/:credential and may accept raw user ids.
	Legacy *session.Driver
	// Strict serves the token-only endpoints.
	Strict   *session.Driver
	Ingest   *ingest.Handler
	Presence Presence // optional
}

// Server is the gateway's HTTP surface: websocket endpoints for clients and
// the internal ingest API for the rest of the backend.
type Server struct {
	Deps
	conf     *config.AppConfig
	engine   *gin.Engine
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewServer(conf *config.AppConfig, deps Deps, l *zap.Logger) *Server {
	l = logger.Named(l, "gateway")
	s := &Server{
		Deps: deps,
		conf: conf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  conf.WebSocket.ReadBufferSize,
			WriteBufferSize: conf.WebSocket.WriteBufferSize,
			CheckOrigin:     middleware.Origin(conf.WebSocket.AllowedOrigins),
		},
		log: l,
	}

	r := gin.New()
	r.Use(middleware.NewManager(middleware.Logger(l), middleware.Recovery(l)).Use())
	s.routes(r)
	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes(r *gin.Engine) {
	r.GET("/healthz", s.health)

	r.GET("/ws/:credential", s.serveWS(s.Legacy, "credential", session.ModeChat))
	v1 := r.Group("/api/v1")
	v1.GET("/ws/:token", s.serveWS(s.Strict, "token", session.ModeChat))
	v1.GET("/notifications/:token", s.serveWS(s.Strict, "token", session.ModeNotifications))

	internal := r.Group("/internal/v1")
	opt := middleware.RouteOpt{Auth: security.Middleware(security.DefaultOptions(s.conf.Server.InternalSecret))}
	middleware.POST(internal, "/messages", s.ingest(ingest.KindMessage), opt)
	middleware.POST(internal, "/read-receipts", s.ingest(ingest.KindReadReceipt), opt)
	middleware.POST(internal, "/typing", s.ingest(ingest.KindTyping), opt)
	middleware.POST(internal, "/notifications", s.ingest(ingest.KindNotification), opt)
	middleware.POST(internal, "/users/:user_id/kick", s.kick, opt)
	middleware.GET(internal, "/presence/:user_id", s.presence, opt)
}

// serveWS upgrades and hands the connection to d until the session ends.
// The credential is verified after the upgrade so a rejection can carry
// close code 4001.
func (s *Server) serveWS(d *session.Driver, param string, mode session.Mode) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred := c.Param(param)
		ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// 常见：非 WebSocket 请求/握手失败，Upgrade 已写回 HTTP 错误
			s.log.Info("upgrade websocket", zap.String("path", c.FullPath()), zap.Error(err))
			return
		}
		if err := d.Serve(c.Request.Context(), ws, cred, mode); err != nil {
			s.log.Debug("session refused", zap.String("path", c.FullPath()), zap.Error(err))
		}
	}
}
