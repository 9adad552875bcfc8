package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/lomito/escalation-service/api"
	"github.com/lomito/escalation-service/internal/handler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const (
	PathHealth  = "/health"
	PathReady   = "/ready"
	PathMetrics = "/metrics"
	PathSwagger = "/swagger"
	PathV1      = "/api/v1"
)

type Handlers struct {
	Escalation   *handler.EscalationHandler
	Inbound      *handler.InboundHandler
	Notification *handler.NotificationHandler
	DB           handler.Pinger
	Gatherer     prometheus.Gatherer
}

// New builds the gin engine and wraps it with CORS for the given origins. No origins means same-origin only.
func New(h Handlers, allowedOrigins []string) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.HandleMethodNotAllowed = true
	r.NoMethod(handler.MethodNotAllowed)

	r.GET(PathHealth, handler.Health)
	r.GET(PathReady, handler.Ready(h.DB))
	if h.Gatherer != nil {
		r.GET(PathMetrics, gin.WrapH(promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})))
	}
	r.GET(PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, PathSwagger+"/") })
	r.GET(PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = PathSwagger + "/index.html"
			c.Request.RequestURI = PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL(PathSwagger+"/openapi.json"))(c)
	})

	v1 := r.Group(PathV1)
	{
		v1.POST("/escalate-case", h.Escalation.Escalate)
		v1.POST("/auto-escalation-check", h.Escalation.Sweep)
		v1.POST("/inbound-email", h.Inbound.Receive)
		v1.POST("/send-notification", h.Notification.Send)
	}

	if len(allowedOrigins) == 0 {
		return r
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Client-Info", "Apikey"},
		AllowCredentials: false,
		MaxAge:           300,
	})(r)
}
