package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"blobkeeper/internal/platform/config"
	"blobkeeper/internal/platform/server/handler/blob"
	"blobkeeper/internal/platform/server/handler/cluster"
	"blobkeeper/internal/platform/server/handler/health"
)

type Server struct {
	httpAddr string
	engine   *chi.Mux
	logger   *zap.Logger
}

func NewServer(
	cfg config.Config,
	blobHandler *blob.BlobHandler,
	clusterHandler *cluster.ClusterHandler,
	logger *zap.Logger,
) Server {
	srv := Server{
		engine:   chi.NewRouter(),
		httpAddr: fmt.Sprintf(":%d", cfg.ServerPort),
		logger:   logger,
	}
	srv.engine.Use(middleware.Logger)
	srv.registerRoutes(blobHandler, clusterHandler)
	return srv
}

func (s *Server) Run() error {
	s.logger.Info("server running", zap.String("addr", s.httpAddr))
	return http.ListenAndServe(s.httpAddr, s.engine)
}

func (s *Server) registerRoutes(blobHandler *blob.BlobHandler, clusterHandler *cluster.ClusterHandler) {
	s.engine.Get("/health", health.CheckHandler)
	s.engine.Handle("/metrics", promhttp.Handler())

	s.engine.Post("/blob/{type}", blobHandler.SaveBlob)
	s.engine.Get("/blob/{id}/{type}", blobHandler.GetBlob)
	s.engine.Delete("/blob/{id}", blobHandler.DeleteBlob)

	s.engine.Get("/cluster/partitions/{disk}/{partition}/merkle-tree", clusterHandler.MerkleTree)
	s.engine.Get("/cluster/partitions/{disk}/{partition}/difference", clusterHandler.Difference)
	s.engine.Post("/cluster/partitions/{disk}/{partition}/fetch-range", clusterHandler.FetchRange)
	s.engine.Post("/cluster/instances", clusterHandler.UpdateInstances)
	s.engine.Post("/cluster/refresh", clusterHandler.Refresh)
}
