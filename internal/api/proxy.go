package api

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
)

// proxy forwards /proxy/{port}/... to the dashboard listening on port.
// Only ports owned by tracked dashboards are reachable. Websocket upgrades
// pass through.
func (s *Server) proxy(w http.ResponseWriter, r *http.Request) {
	p, err := strconv.Atoi(r.PathValue("port"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid port"})
		return
	}
	d, ok := s.registry.ByPort(p)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("no dashboard on port %d", p)})
		return
	}

	target := &url.URL{Scheme: "http", Host: net.JoinHostPort("127.0.0.1", strconv.Itoa(p))}
	if addr, ok := d.Address(); ok && addr.Scheme != "" {
		target.Scheme = addr.Scheme
	}
	prefix := fmt.Sprintf("/proxy/%d", p)

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.URL.Path = "/" + strings.TrimPrefix(strings.TrimPrefix(pr.In.URL.Path, prefix), "/")
			pr.Out.URL.RawPath = ""
			pr.SetXForwarded()
			pr.Out.Header.Set("X-Forwarded-Prefix", prefix)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.logger.Warn("proxy error", "port", p, "path", r.URL.Path, "error", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		},
	}
	rp.ServeHTTP(w, r)
}
