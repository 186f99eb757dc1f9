package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sippy/Sippy-Recorder/internal/config"
	log "github.com/sirupsen/logrus"
)

// HTTPServer is the admin HTTP surface: live-call listing and a health
// probe. Read-only; call control stays on the SIP and pubsub surfaces.
type HTTPServer struct {
	cfg    *config.Config
	port   int
	server *Server
}

func NewHTTPServer(cfg *config.Config, sv *Server) *HTTPServer {
	return &HTTPServer{
		cfg:    cfg,
		port:   cfg.HTTP.Port,
		server: sv,
	}
}

func (s *HTTPServer) Serve() {
	mux := http.NewServeMux()

	mux.HandleFunc("/calls", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.server.ActiveCalls()); err != nil {
			log.Errorf("failed to encode call listing: %s", err)
		}
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := ":" + strconv.Itoa(s.port)
	log.Printf("starting http server on %s", addr)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatal(err)
		}
	}()
}
