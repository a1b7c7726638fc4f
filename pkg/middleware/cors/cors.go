package cors

import (
	"net/http"
	"strings"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/food-approval-api/pkg/config"
)

var (
	defaultMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	defaultHeaders = []string{"Origin", "Authorization", "Content-Type", "X-Request-ID"}
)

// Options translates the service CORS settings into gin-contrib/cors options.
// An empty origin list admits any origin; credentials are then dropped since
// browsers refuse them for wildcard origins.
func Options(cfg config.CORSConfig) gincors.Config {
	opts := gincors.DefaultConfig()
	opts.AllowMethods = orDefault(cfg.AllowedMethods, defaultMethods)
	opts.AllowHeaders = orDefault(cfg.AllowedHeaders, defaultHeaders)
	opts.ExposeHeaders = cfg.ExposedHeaders
	if cfg.MaxAge > 0 {
		opts.MaxAge = cfg.MaxAge
	}

	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		opts.AllowAllOrigins = true
		opts.AllowCredentials = false
		return opts
	}
	opts.AllowOrigins = origins
	opts.AllowCredentials = cfg.AllowCredentials
	return opts
}

// New returns the CORS middleware, or an error when the settings are
// inconsistent (for example an origin without scheme).
func New(cfg config.CORSConfig) (gin.HandlerFunc, error) {
	opts := Options(cfg)
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return gincors.New(opts), nil
}

func orDefault(values, fallback []string) []string {
	if len(values) == 0 {
		return fallback
	}
	return values
}
