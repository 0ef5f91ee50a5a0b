package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/gradecall/config"
	"github.com/mossy-p/gradecall/internal/models"
)

// ICEServerList turns the configured URLs into one entry per server. TURN
// entries carry the configured credentials.
func ICEServerList(cfg config.ICEConfig) []models.ICEServer {
	servers := make([]models.ICEServer, 0, len(cfg.URLs))
	for _, u := range cfg.URLs {
		s := models.ICEServer{URLs: []string{u}}
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			s.Username = cfg.TURNUsername
			s.Credential = cfg.TURNCredential
		}
		servers = append(servers, s)
	}
	return servers
}

// ICEServers returns the STUN/TURN servers participants should use
func ICEServers(cfg config.ICEConfig) gin.HandlerFunc {
	servers := ICEServerList(cfg)
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": servers})
	}
}
