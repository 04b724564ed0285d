package builtin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sirosfoundation/go-glue/pkg/server"
)

// StatusResponse is the response from the /health and /status endpoints.
type StatusResponse struct {
	Status      string             `json:"status"`
	Service     string             `json:"service"`
	Version     string             `json:"version"`
	Connections []ConnectionStatus `json:"connections"`
}

// ConnectionStatus describes one connection the status plugin is mounted on.
type ConnectionStatus struct {
	URI     string   `json:"uri"`
	Labels  []string `json:"labels"`
	Plugins []string `json:"plugins"`
}

// Status serves /health and /status. The "service" option names the service
// in the response.
var Status = server.NewPlugin(server.Attributes{Name: StatusID, Version: Version}, registerStatus)

func registerStatus(api *server.API, options map[string]any) error {
	service, _ := options["service"].(string)
	if service == "" {
		service = "glue"
	}
	conns := api.Connections()

	handler := func(c *gin.Context) {
		resp := StatusResponse{
			Status:      "ok",
			Service:     service,
			Version:     Version,
			Connections: make([]ConnectionStatus, 0, len(conns)),
		}
		for _, conn := range conns {
			resp.Connections = append(resp.Connections, ConnectionStatus{
				URI:     conn.URI(),
				Labels:  conn.Labels(),
				Plugins: conn.Plugins(),
			})
		}
		c.JSON(http.StatusOK, resp)
	}
	api.GET("/health", handler)
	api.GET("/status", handler)
	return nil
}
