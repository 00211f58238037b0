package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/pprof"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skip2/go-qrcode"

	ws "github.com/chloezql/breakingnews-sub001/websocket"
)

const qrSize = 320

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) Routes() http.Handler {
	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		slog.Error("http handler panic", "path", r.URL.Path, "panic", i)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	mux.GET("/ws", s.serveWS)
	mux.GET("/status", s.serveStatus)
	mux.GET("/healthz", serveHealth)
	mux.GET("/version", s.serveVersion)
	mux.GET("/qr", serveQR)
	mux.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	if s.cfg.Profile {
		registerProfileHandlers(mux)
	}

	return mux
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("upgrade error", "remote", r.RemoteAddr, "error", err)
		return
	}

	ws.NewConn(uuid.New().String(), conn, s, s.connOptions()).Start()
}

func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.Status())
}

func (s *Server) serveVersion(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.cfg.Version})
}

func serveHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// serveQR renders the relay's websocket URL as a PNG so a device can be
// paired by pointing a camera at the operator screen.
func serveQR(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	png, err := qrcode.Encode(socketURL(r), qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func socketURL(r *http.Request) string {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "https" {
		scheme = "wss"
	}
	return scheme + "://" + r.Host + "/ws"
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response write failed", "error", err)
	}
}

func registerProfileHandlers(mux *httprouter.Router) {
	mux.Handler(http.MethodGet, "/pprof/allocs", pprof.Handler("allocs"))
	mux.Handler(http.MethodGet, "/pprof/block", pprof.Handler("block"))
	mux.Handler(http.MethodGet, "/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handler(http.MethodGet, "/pprof/heap", pprof.Handler("heap"))
	mux.Handler(http.MethodGet, "/pprof/mutex", pprof.Handler("mutex"))
	mux.HandlerFunc(http.MethodGet, "/pprof/cmdline", pprof.Cmdline)
	mux.HandlerFunc(http.MethodGet, "/pprof/profile", pprof.Profile)
	mux.HandlerFunc(http.MethodGet, "/pprof/trace", pprof.Trace)
}
