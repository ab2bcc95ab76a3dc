// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/poiesic/lattice"
	"github.com/poiesic/lattice/config"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/ingestion"
	"github.com/poiesic/lattice/resilience"
	"github.com/poiesic/lattice/search"
)

// Engine is the part of lattice.Engine the API serves.
type Engine interface {
	CreateProject(ctx context.Context, name string) (*core.Project, error)
	Projects(ctx context.Context) ([]*core.Project, error)
	Project(ctx context.Context, projectID string) (*core.Project, error)
	ListDocuments(ctx context.Context, projectID string) ([]*core.Document, error)
	Document(ctx context.Context, projectID, docID string) (*core.Document, error)
	Ingest(ctx context.Context, projectID, filename string, data []byte) (*ingestion.Task, error)
	Status(taskID string) (ingestion.TaskStatus, error)
	Cancel(taskID string) error
	Search(ctx context.Context, q search.Query) (*search.Results, error)
	Delete(ctx context.Context, projectID, docID string) (*ingestion.DeleteResult, error)
	Health() lattice.Health
}

var _ Engine = (*lattice.Engine)(nil)

// ErrEngineRequired is returned when a nil engine is passed.
var ErrEngineRequired = errors.New("engine is required")

// Server is the HTTP front of an Engine.
type Server struct {
	app             *fiber.App
	engine          Engine
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// New builds the fiber app. A nil limiter disables rate limiting.
func New(engine Engine, cfg config.ServerConfig, limiter *resilience.Limiter, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, ErrEngineRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")

	app := fiber.New(fiber.Config{
		AppName:               "lattice",
		BodyLimit:             cfg.BodyLimit,
		ErrorHandler:          errorHandler(logger),
		DisableStartupMessage: true,
	})
	if limiter != nil {
		app.Use(rateLimit(limiter))
	}

	s := &Server{
		app:             app,
		engine:          engine,
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logger,
	}
	s.RegisterRoutes(app.Group("/v1"))
	return s, nil
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until Shutdown is called.
func (s *Server) Listen(address string) error {
	s.logger.Info("listening", "address", address)
	return s.app.Listen(address)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(s.shutdownTimeout)
}
