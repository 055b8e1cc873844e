package gateway

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tu2l/identity-platform/internal/config"
)

type upstreamRoute struct {
	prefix string
	proxy  *httputil.ReverseProxy
}

// Proxy forwards classified, authenticated requests to the upstream
// service owning the longest matching path prefix.
type Proxy struct {
	routes []upstreamRoute
	log    zerolog.Logger
}

func NewProxy(routes []config.RouteConfig, log zerolog.Logger) (*Proxy, error) {
	p := &Proxy{log: log}
	for _, route := range routes {
		target, err := url.Parse(route.Upstream)
		if err != nil {
			return nil, fmt.Errorf("parse upstream %q: %w", route.Upstream, err)
		}

		rp := httputil.NewSingleHostReverseProxy(target)
		rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			log.Error().Err(err).Str("path", r.URL.Path).Msg("upstream request failed")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"upstream_unavailable"}`))
		}

		p.routes = append(p.routes, upstreamRoute{prefix: route.Prefix, proxy: rp})
	}
	return p, nil
}

// Handler resolves the upstream by longest prefix match and hands the
// request over with the enriched headers intact.
func (p *Proxy) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var match *upstreamRoute
		for i := range p.routes {
			route := &p.routes[i]
			if !strings.HasPrefix(c.Request.URL.Path, route.prefix) {
				continue
			}
			if match == nil || len(route.prefix) > len(match.prefix) {
				match = route
			}
		}

		if match == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no_route"})
			return
		}

		match.proxy.ServeHTTP(c.Writer, c.Request)
	}
}
