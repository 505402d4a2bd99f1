// Package status serves a small local HTTP endpoint exposing the current
// session's state, for operators on the host itself.
package status

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// Server serves GET /status with a JSON snapshot from the snapshot func.
type Server struct {
	log      *zap.SugaredLogger
	server   *http.Server
	snapshot func() interface{}
}

func NewServer(log *zap.SugaredLogger, addr string, snapshot func() interface{}) *Server {
	s := &Server{
		log:      log.Named("status"),
		snapshot: snapshot,
	}
	router := httprouter.New()
	router.GET("/status", s.getStatus)
	s.server = &http.Server{Addr: addr, Handler: router}
	return s
}

// Run serves until Stop is called. It returns http.ErrServerClosed on a
// clean shutdown, matching net/http conventions.
func (s *Server) Run() error {
	s.log.Infof("status endpoint listening on %s", s.server.Addr)
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(s.snapshot())
	if err != nil {
		s.log.Debugf("error encoding status: %s", err)
	}
}
