package http_handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/anthanhphan/go-file-drop/internal/drop/config"
	"github.com/anthanhphan/go-file-drop/internal/drop/domain"
	"github.com/anthanhphan/go-file-drop/internal/drop/port"
	sdklogger "github.com/anthanhphan/gosdk/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const localsSession = "session"

type Server struct {
	app       *fiber.App
	cfg       *config.Config
	files     port.FileRegistry
	gate      port.AdminGate
	sessions  *SessionStore
	broker    *Broker
	downloads *downloadCache
}

func NewServer(cfg *config.Config, files port.FileRegistry, gate port.AdminGate) *Server {
	s := &Server{
		cfg:       cfg,
		files:     files,
		gate:      gate,
		sessions:  NewSessionStore(),
		broker:    NewBroker(),
		downloads: newDownloadCache(cfg.Cache.Size, cfg.CacheTTL()),
	}

	app := fiber.New(fiber.Config{
		BodyLimit:    cfg.BodyLimit(),
		ErrorHandler: s.handleError,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(metricsMiddleware)

	s.app = app

	// Routes
	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/healthz", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := s.app.Group("/api")
	api.Post("/session", s.handleLogin)
	api.Delete("/session", s.handleLogout)
	api.Get("/session", s.handleSessionState)

	api.Get("/files", s.handleList)
	api.Get("/files/events", s.handleEvents)
	api.Get("/files/:id/download", s.handleDownload)
	api.Post("/files", s.requireAdmin, s.handleUpload)
	api.Delete("/files/:id", s.requireAdmin, s.handleDelete)
}

func (s *Server) Start() error {
	return s.app.Listen(s.cfg.Server.Addr)
}

func (s *Server) Stop(ctx context.Context) error {
	s.broker.Close()
	return s.app.ShutdownWithContext(ctx)
}

// PublishSnapshot pushes a registry snapshot to every live event stream.
func (s *Server) PublishSnapshot(snap domain.Snapshot) {
	s.broker.Publish(snap)
}

// PublishError tells live event streams that the registry feed failed.
func (s *Server) PublishError(err error) {
	s.broker.Fail(err)
}

func (s *Server) sendJSONError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

// handleError keeps framework errors (body limit, unknown route, panics)
// in the same {"error": ...} shape as handler errors.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := err.Error()
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		status = fiberErr.Code
		message = fiberErr.Message
	}
	if status == fiber.StatusRequestEntityTooLarge {
		message = fmt.Sprintf("Request body exceeds the %d byte limit", s.cfg.BodyLimit())
	}
	return s.sendJSONError(c, status, message)
}

func (s *Server) sendError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrTooLarge):
		return s.sendJSONError(c, fiber.StatusRequestEntityTooLarge,
			fmt.Sprintf("File exceeds the %d byte limit", s.files.MaxUploadBytes()))
	case errors.Is(err, domain.ErrAuthDenied):
		return s.sendJSONError(c, fiber.StatusUnauthorized, "Invalid PIN")
	case errors.Is(err, domain.ErrRecordNotFound):
		return s.sendJSONError(c, fiber.StatusNotFound, "File not found")
	case errors.Is(err, domain.ErrUploadFailed), errors.Is(err, domain.ErrDeleteFailed):
		return s.sendJSONError(c, fiber.StatusBadGateway, err.Error())
	}
	return s.sendJSONError(c, fiber.StatusInternalServerError, err.Error())
}

func (s *Server) session(c *fiber.Ctx) (*domain.AdminSession, bool) {
	return s.sessions.Get(c.Cookies(sessionCookie))
}

func (s *Server) requireAdmin(c *fiber.Ctx) error {
	session, ok := s.session(c)
	if !ok || !session.IsAdmin() {
		return s.sendJSONError(c, fiber.StatusForbidden, "Admin session required")
	}
	c.Locals(localsSession, session)
	return c.Next()
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"records": s.files.Snapshot().Len(),
	})
}

type loginRequest struct {
	PIN string `json:"pin"`
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Invalid request body")
	}

	token := c.Cookies(sessionCookie)
	session, known := s.sessions.Get(token)
	if !known {
		session = domain.NewAdminSession()
	}

	if err := s.gate.Login(session, req.PIN); err != nil {
		sdklogger.Warnw("Admin login rejected", "ip", c.IP())
		return s.sendError(c, err)
	}

	if !known {
		token = s.sessions.Save(session)
		c.Cookie(&fiber.Cookie{
			Name:     sessionCookie,
			Value:    token,
			Path:     "/",
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}

	return c.JSON(fiber.Map{
		"message": "Admin mode enabled",
	})
}

func (s *Server) handleLogout(c *fiber.Ctx) error {
	token := c.Cookies(sessionCookie)
	if session, ok := s.sessions.Get(token); ok {
		s.gate.Logout(session)
		s.sessions.Delete(token)
	}
	c.ClearCookie(sessionCookie)
	return c.JSON(fiber.Map{
		"message": "Logged out",
	})
}

func (s *Server) handleSessionState(c *fiber.Ctx) error {
	session, ok := s.session(c)
	return c.JSON(fiber.Map{
		"admin": ok && session.IsAdmin(),
	})
}

func (s *Server) handleList(c *fiber.Ctx) error {
	return c.JSON(viewOf(s.files.Snapshot()))
}

func (s *Server) handleUpload(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Missing 'file' part")
	}

	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	input := domain.RawFileInput{
		Name:      fh.Filename,
		MimeType:  mimeType,
		SizeBytes: fh.Size,
	}

	// Oversized files are rejected by Add on the declared size alone.
	if fh.Size <= s.files.MaxUploadBytes() {
		input.Data, err = readFormFile(fh)
		if err != nil {
			return s.sendJSONError(c, fiber.StatusBadRequest, fmt.Sprintf("Failed to read upload: %v", err))
		}
	}

	record, err := s.files.Add(c.Context(), input)
	if err != nil {
		sdklogger.Warnw("Upload failed", "file_name", fh.Filename, "size", fh.Size, "error", err.Error())
		return s.sendError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "File uploaded",
		"id":      record.ID,
	})
}

func (s *Server) handleDelete(c *fiber.Ctx) error {
	fileID := c.Params("id")
	if err := s.files.Remove(c.Context(), fileID); err != nil {
		sdklogger.Warnw("Delete failed", "file_id", fileID, "error", err.Error())
		return s.sendError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "File deleted",
	})
}

func (s *Server) handleDownload(c *fiber.Ctx) error {
	fileID := c.Params("id")
	record, ok := s.files.Lookup(fileID)
	if !ok {
		return s.sendError(c, domain.ErrRecordNotFound)
	}

	etag := etagOf(record)
	c.Set(fiber.HeaderETag, etag)
	if match := c.Get(fiber.HeaderIfNoneMatch); match != "" && strings.Contains(match, etag) {
		return c.SendStatus(fiber.StatusNotModified)
	}

	key := cacheKey(record, etag)
	data, hit := s.downloads.get(key)
	if !hit {
		var err error
		data, err = s.files.Download(record)
		if err != nil {
			sdklogger.Errorw("Stored payload is corrupt", "file_id", fileID, "error", err.Error())
			return s.sendJSONError(c, fiber.StatusInternalServerError, "Stored file is corrupt")
		}
		s.downloads.add(key, data)
	}

	contentType := record.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Set(fiber.HeaderContentType, contentType)
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": record.Name})
	if disposition == "" {
		disposition = "attachment"
	}
	c.Set(fiber.HeaderContentDisposition, disposition)
	return c.Send(data)
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}
