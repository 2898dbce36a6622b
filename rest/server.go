package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/flowrelay/flowrelay/logger"
	"github.com/flowrelay/flowrelay/model"
	"github.com/flowrelay/flowrelay/network"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// QueueReader supplies the current replay queue; the runtime core
// implements it even before a flow session is initialized.
type QueueReader func() []model.QueuedRequest

// Server exposes the runtime's status to the host UI shell: the network
// state and queue depth that banners and spinners render, plus metrics.
type Server struct {
	http.Server
	Port     int
	netStore *network.Store
	queue    QueueReader
}

func NewServer(httpPort int, netStore *network.Store, queue QueueReader) (*Server, error) {
	s := &Server{
		Server: http.Server{
			Addr:        fmt.Sprintf(":%d", httpPort),
			IdleTimeout: 2 * time.Second,
		},
		netStore: netStore,
		queue:    queue,
		Port:     httpPort,
	}

	router := mux.NewRouter()
	router.HandleFunc("/status", s.HandleGetStatus).Methods(http.MethodGet)
	router.HandleFunc("/queue", s.HandleGetQueue).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	state := s.netStore.State()
	respondWithJSON(w, http.StatusOK, map[string]any{
		"hasNetwork":      state.HasNetwork,
		"isOffline":       state.IsOffline,
		"isReplaying":     state.IsReplaying,
		"cachingProgress": state.CachingProgress,
		"queueDepth":      len(s.queue()),
	})
}

func (s *Server) HandleGetQueue(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, s.queue())
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server")
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
