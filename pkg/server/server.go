package server

import (
	sterrors "errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/oarkflow/json"
	"github.com/oarkflow/log"

	"github.com/oarkflow/hl7/pkg/parsers"
)

// HL7ContentType is used for pipe-delimited request and response bodies.
const HL7ContentType = "x-application/hl7-v2+er7"

type Config struct {
	Version    string
	RequestLog bool
	BodyLimit  int
}

// Server exposes an HL7Parser over HTTP.
type Server struct {
	app    *fiber.App
	parser *parsers.HL7Parser
	config Config
}

type ParseResponse struct {
	Document *parsers.Document `json:"document,omitempty"`
	Error    string            `json:"error,omitempty"`
}

type GetResponse struct {
	Path  string `json:"path"`
	Value string `json:"value"`
}

// NewServer builds the HTTP routes. A nil parser means NewHL7Parser().
func NewServer(cfg Config, parser *parsers.HL7Parser) *Server {
	if parser == nil {
		parser = parsers.NewHL7Parser()
	}
	app := fiber.New(fiber.Config{
		BodyLimit:   cfg.BodyLimit,
		JSONEncoder: func(v any) ([]byte, error) {
			return json.Marshal(v)
		},
		JSONDecoder: func(data []byte, v any) error {
			return json.Unmarshal(data, v)
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})
	server := &Server{
		app:    app,
		parser: parser,
		config: cfg,
	}
	server.setupRoutes()
	return server
}

// App returns the underlying fiber app so callers can mount more routes.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) setupRoutes() {
	s.app.Use(cors.New())
	if s.config.RequestLog {
		s.app.Use(logger.New())
	}

	s.app.Get("/api/health", s.healthHandler)

	s.app.Get("/api/hl7/versions", s.versionsHandler)
	s.app.Post("/api/hl7/parse", s.parseHandler)
	s.app.Post("/api/hl7/get", s.getHandler)
	s.app.Post("/api/hl7/ack", s.ackHandler)
}

func (s *Server) healthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"version":   s.config.Version,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) versionsHandler(c *fiber.Ctx) error {
	registry := s.parser.Registry()
	if registry == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "descriptor tables are not loaded")
	}
	return c.JSON(fiber.Map{"versions": registry.Versions()})
}

// parseHandler decodes the body. ?format=xml answers with the XML rendering. Messages
// with malformed fields in strict mode are answered 422 with the partial document.
func (s *Server) parseHandler(c *fiber.Ctx) error {
	msg, parseErr := s.parse(c)
	if msg == nil {
		return c.Status(fiber.StatusBadRequest).JSON(ParseResponse{Error: parseErr.Error()})
	}
	doc, err := parsers.NewDocument(msg)
	if err != nil {
		return err
	}
	status := fiber.StatusOK
	if parseErr != nil {
		status = fiber.StatusUnprocessableEntity
	}
	if strings.EqualFold(c.Query("format"), "xml") {
		c.Type("xml")
		return c.Status(status).Send(doc.XML)
	}
	resp := ParseResponse{Document: doc}
	if parseErr != nil {
		resp.Error = parseErr.Error()
	}
	return c.Status(status).JSON(resp)
}

// getHandler answers the terser path in ?path= for the message in the body.
func (s *Server) getHandler(c *fiber.Ctx) error {
	path := c.Query("path")
	if path == "" {
		return fiber.NewError(fiber.StatusBadRequest, "path query parameter is required")
	}
	msg, parseErr := s.parse(c)
	if msg == nil {
		return fiber.NewError(fiber.StatusBadRequest, parseErr.Error())
	}
	value, err := msg.Get(path)
	if sterrors.Is(err, parsers.ErrPathNotFound) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(GetResponse{Path: path, Value: value})
}

// ackHandler answers the message in the body with an acknowledgment. ?code= picks the
// MSA-1 code (AA by default); messages with malformed fields are answered AE.
func (s *Server) ackHandler(c *fiber.Ctx) error {
	msg, parseErr := s.parse(c)
	if msg == nil {
		return fiber.NewError(fiber.StatusBadRequest, parseErr.Error())
	}
	code := strings.ToUpper(c.Query("code", parsers.AckAccept))
	text := c.Query("text")
	if parseErr != nil {
		code, text = parsers.AckError, parseErr.Error()
	}
	ack, err := s.parser.BuildACK(msg, code, text)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	c.Set(fiber.HeaderContentType, HL7ContentType)
	return c.SendString(ack.Encode())
}

func (s *Server) parse(c *fiber.Ctx) (*parsers.Message, error) {
	body := c.Body()
	if len(body) == 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "request body is empty")
	}
	msg, err := s.parser.ParseString(string(body))
	if err != nil {
		log.Printf("hl7 server: parse %s: %v", c.Path(), err)
	}
	return msg, err
}

func (s *Server) Start(addr string) error {
	log.Printf("Starting HL7 server on %s", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	log.Printf("Shutting down HL7 server gracefully")
	return s.app.Shutdown()
}
