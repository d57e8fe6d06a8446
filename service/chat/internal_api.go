package chat

import (
	"io"
	"net/http"
	"strconv"

	"PPRealtime/service/ingest"
	"PPRealtime/service/realtime/registry"
	"PPRealtime/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxCommandBytes = 1 << 20

var (
	errBadRequest = errs.NewCodeError(http.StatusBadRequest, "bad request")
	errBadUserID  = errs.NewCodeError(http.StatusBadRequest, "invalid user_id")
)

type deliveryResponse struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Dropped   int `json:"dropped"`
	Pruned    int `json:"pruned"`
}

func toResponse(r registry.DeliveryReport) deliveryResponse {
	return deliveryResponse{Attempted: r.Attempted, Sent: r.Sent, Dropped: r.Dropped, Pruned: r.Pruned}
}

// ingest accepts one command as the request body. An offline target is a
// successful request with zero sends.
func (s *Server) ingest(kind ingest.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCommandBytes))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, errBadRequest.WithDetail(err.Error()))
			return
		}
		rep, err := s.Ingest.Handle(c.Request.Context(), kind, body)
		if err != nil {
			s.log.Info("ingest rejected", zap.String("kind", string(kind)), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusBadRequest, errBadRequest.WithDetail(err.Error()))
			return
		}
		c.JSON(http.StatusOK, toResponse(rep))
	}
}

func userIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, errBadUserID.WithDetail(c.Param("user_id")))
		return 0, false
	}
	return id, true
}

func (s *Server) kick(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}
	n := s.Registry.Kick(id, errs.ErrKicked.Code, errs.ErrKicked.Msg)
	c.JSON(http.StatusOK, gin.H{"user_id": id, "closed": n})
}

func (s *Server) presence(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}
	n := s.Registry.Count(id)
	resp := gin.H{"user_id": id, "online": n > 0, "connections": n}
	if n == 0 && s.Presence != nil {
		node, online, err := s.Presence.Lookup(c.Request.Context(), id)
		if err != nil {
			s.log.Warn("presence lookup", zap.Int64("user_id", id), zap.Error(err))
		} else if online {
			resp["online"] = true
			resp["node_id"] = node
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) health(c *gin.Context) {
	st := s.Registry.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"node_id":     s.conf.NodeId,
		"users":       st.Users,
		"connections": st.Connections,
	})
}
