package api

import (
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/search"
)

// RegisterRoutes mounts every endpoint on r.
func (s *Server) RegisterRoutes(r fiber.Router) {
	r.Get("/health", s.health)

	projects := r.Group("/projects")
	projects.Post("", s.createProject)
	projects.Get("", s.listProjects)
	projects.Get("/:project", s.showProject)
	projects.Post("/:project/documents", s.upload)
	projects.Get("/:project/documents", s.listDocuments)
	projects.Get("/:project/documents/:doc", s.showDocument)
	projects.Delete("/:project/documents/:doc", s.deleteDocument)
	projects.Post("/:project/search", s.search)

	tasks := r.Group("/tasks")
	tasks.Get("/:task", s.taskStatus)
	tasks.Delete("/:task", s.cancelTask)
}

func (s *Server) health(c *fiber.Ctx) error {
	h := s.engine.Health()
	res := HealthResponse{
		Healthy:  h.Healthy,
		Breakers: make([]BreakerResponse, 0, len(h.Breakers)),
		Pools:    make([]PoolResponse, 0, len(h.Pools)),
	}
	for _, b := range h.Breakers {
		res.Breakers = append(res.Breakers, BreakerResponse{
			Dependency:          b.Dependency,
			State:               string(b.State),
			ConsecutiveFailures: b.ConsecutiveFailures,
			OpenedAt:            b.OpenedAt,
		})
	}
	for _, p := range h.Pools {
		res.Pools = append(res.Pools, PoolResponse{Name: p.Name, Max: p.Max, Total: p.Total, Leased: p.Leased, Idle: p.Idle})
	}
	status := fiber.StatusOK
	if !h.Healthy {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(success("health", res))
}

func (s *Server) createProject(c *fiber.Ctx) error {
	var req CreateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validateRequest(req); err != nil {
		return err
	}

	project, err := s.engine.CreateProject(c.UserContext(), req.Name)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(success("project created", toProject(project)))
}

func (s *Server) listProjects(c *fiber.Ctx) error {
	projects, err := s.engine.Projects(c.UserContext())
	if err != nil {
		return err
	}
	res := make([]ProjectResponse, len(projects))
	for i, p := range projects {
		res[i] = toProject(p)
	}
	return c.JSON(success("projects", res))
}

func (s *Server) showProject(c *fiber.Ctx) error {
	project, err := s.engine.Project(c.UserContext(), c.Params("project"))
	if err != nil {
		return err
	}
	return c.JSON(success("project", toProject(project)))
}

func (s *Server) upload(c *fiber.Ctx) error {
	header, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart field \"file\" is required")
	}
	f, err := header.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	task, err := s.engine.Ingest(c.UserContext(), c.Params("project"), header.Filename, data)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(success("document accepted", TaskResponse{
		TaskID:    task.ID,
		DocID:     task.DocID,
		ProjectID: task.ProjectID,
	}))
}

func (s *Server) listDocuments(c *fiber.Ctx) error {
	docs, err := s.engine.ListDocuments(c.UserContext(), c.Params("project"))
	if err != nil {
		return err
	}
	res := make([]DocumentResponse, len(docs))
	for i, d := range docs {
		res[i] = toDocument(d)
	}
	return c.JSON(success("documents", res))
}

func (s *Server) showDocument(c *fiber.Ctx) error {
	doc, err := s.engine.Document(c.UserContext(), c.Params("project"), c.Params("doc"))
	if err != nil {
		return err
	}
	return c.JSON(success("document", toDocument(doc)))
}

func (s *Server) deleteDocument(c *fiber.Ctx) error {
	result, err := s.engine.Delete(c.UserContext(), c.Params("project"), c.Params("doc"))
	var warning string
	if err != nil {
		if !errors.Is(err, core.ErrOrphanedFile) || result == nil {
			return err
		}
		warning = err.Error()
	}
	return c.JSON(success("document deleted", DeleteResponse{
		DocID:          result.DocID,
		VectorsRemoved: result.VectorsRemoved,
		GraphRemoved:   result.GraphRemoved,
		FileRemoved:    result.FileRemoved,
		Warning:        warning,
	}))
}

func (s *Server) search(c *fiber.Ctx) error {
	var req SearchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validateRequest(req); err != nil {
		return err
	}
	projectID := c.Params("project")
	if _, err := s.engine.Project(c.UserContext(), projectID); err != nil {
		return err
	}

	results, err := s.engine.Search(c.UserContext(), search.Query{
		Text:      req.Query,
		ProjectID: projectID,
		SourceIDs: req.SourceIDs,
		TopK:      req.TopK,
	})
	if err != nil {
		return err
	}
	res := SearchResponse{Hits: make([]HitResponse, len(results.Hits)), Degraded: results.Degraded}
	for i, hit := range results.Hits {
		res.Hits[i] = toHit(hit)
	}
	return c.JSON(success("search results", res))
}

func (s *Server) taskStatus(c *fiber.Ctx) error {
	status, err := s.engine.Status(c.Params("task"))
	if err != nil {
		return err
	}
	return c.JSON(success("task", toTaskStatus(status)))
}

func (s *Server) cancelTask(c *fiber.Ctx) error {
	taskID := c.Params("task")
	if err := s.engine.Cancel(taskID); err != nil {
		return err
	}
	status, err := s.engine.Status(taskID)
	if err != nil {
		return err
	}
	return c.JSON(success("task cancelled", toTaskStatus(status)))
}
