package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PeerCounter reports how many peers hold a rendezvous id.
type PeerCounter interface {
	Count() int
}

type PeersResponse struct {
	Count int `json:"count"`
}

// RegisterHealth mounts the liveness endpoint.
func RegisterHealth(r gin.IRoutes) {
	r.GET("/myapp", handlerHealth)
}

// RegisterPeers mounts the connected-peer count.
func RegisterPeers(r gin.IRoutes, peers PeerCounter) {
	r.GET("/peers", func(c *gin.Context) {
		c.JSON(http.StatusOK, PeersResponse{Count: peers.Count()})
	})
}

func handlerHealth(c *gin.Context) {
	c.String(http.StatusOK, "Hello World")
}
