// Package backendtest serves the portal REST API from memory so SDK code can
// be exercised end to end without a network. Requests are dispatched through
// fiber's in-process test hook.
package backendtest

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-portal"
	"github.com/goliatone/go-portal/api"
)

const localsUID = "uid"

// Identities is the identity service the backend trusts. provider/memory
// implements it.
type Identities interface {
	Verify(token string) (*portal.Identity, error)
	CreateUser(ctx context.Context, email, password, displayName string) (portal.Identity, error)
}

// identityDeleter is implemented by identity services that can drop users.
type identityDeleter interface {
	DeleteUser(uid string)
}

// RecordedRequest is a request seen by the backend.
type RecordedRequest struct {
	Method        string
	Path          string
	Query         string
	Authorization string
	RequestID     string
}

// Option customizes the server.
type Option func(*Server)

// WithClock sets the clock used for timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Server is the fake backend.
type Server struct {
	app        *fiber.App
	identities Identities
	now        func() time.Time

	mu             sync.Mutex
	profiles       map[string]*portal.Profile
	questionnaires map[string]*api.Questionnaire
	order          []string
	notifications  map[string][]*api.Notification
	requests       []RecordedRequest
	failures       map[string][]int
}

// New builds the server around an identity service.
func New(identities Identities, opts ...Option) *Server {
	s := &Server{
		identities:     identities,
		now:            time.Now,
		profiles:       map[string]*portal.Profile{},
		questionnaires: map[string]*api.Questionnaire{},
		notifications:  map[string][]*api.Notification{},
		failures:       map[string][]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	// Immutable: the request log keeps strings past the handler, and fiber
	// otherwise reuses their buffers.
	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		Immutable:             true,
		ErrorHandler:          s.errorHandler,
	})
	s.routes()
	return s
}

// App exposes the fiber app, e.g. to Listen on a real port.
func (s *Server) App() *fiber.App {
	return s.app
}

// Transport returns a round tripper that serves requests in process.
func (s *Server) Transport() http.RoundTripper {
	return transport{app: s.app}
}

// HTTPClient returns an http.Client bound to Transport.
func (s *Server) HTTPClient() *http.Client {
	return &http.Client{Transport: s.Transport()}
}

type transport struct {
	app *fiber.App
}

func (t transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.app.Test(req, -1)
}

func (s *Server) routes() {
	s.app.Use(s.recordRequest, s.injectFailure)

	authed := s.requireAuth
	admin := s.requireAdmin

	s.app.Post("/api/auth/register", s.register)
	s.app.Get("/api/auth/profile", authed, s.getProfile)
	s.app.Patch("/api/auth/profile", authed, s.updateProfile)

	s.app.Post("/api/questionnaire", authed, s.submitQuestionnaire)
	s.app.Get("/api/questionnaire/my", authed, s.myQuestionnaires)
	s.app.Get("/api/questionnaire/admin/all", authed, admin, s.allQuestionnaires)
	s.app.Get("/api/questionnaire/admin/:id", authed, admin, s.adminQuestionnaire)
	s.app.Patch("/api/questionnaire/admin/:id", authed, admin, s.reviewQuestionnaire)
	s.app.Get("/api/questionnaire/:id", authed, s.getQuestionnaire)
	s.app.Patch("/api/questionnaire/:id", authed, s.updateQuestionnaire)
	s.app.Delete("/api/questionnaire/:id", authed, s.deleteQuestionnaire)

	s.app.Get("/api/admin/users", authed, admin, s.listUsers)
	s.app.Get("/api/admin/users/:id", authed, admin, s.userDetails)
	s.app.Patch("/api/admin/users/:id/role", authed, admin, s.updateRole)
	s.app.Delete("/api/admin/users/:id", authed, admin, s.deleteUser)
	s.app.Get("/api/admin/analytics", authed, admin, s.analytics)

	s.app.Get("/api/users/notifications", authed, s.listNotifications)
	s.app.Get("/api/users/notifications/unread-count", authed, s.unreadCount)
	s.app.Post("/api/users/notifications/mark-all-read", authed, s.markAllRead)
	s.app.Patch("/api/users/notifications/:id", authed, s.markRead)
}

func (s *Server) recordRequest(c *fiber.Ctx) error {
	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{
		Method:        c.Method(),
		Path:          c.Path(),
		Query:         string(c.Request().URI().QueryString()),
		Authorization: c.Get(fiber.HeaderAuthorization),
		RequestID:     c.Get("X-Request-ID"),
	})
	s.mu.Unlock()
	return c.Next()
}

func (s *Server) injectFailure(c *fiber.Ctx) error {
	key := c.Method() + " " + c.Path()

	s.mu.Lock()
	queue := s.failures[key]
	var status int
	if len(queue) > 0 {
		status = queue[0]
		s.failures[key] = queue[1:]
	}
	s.mu.Unlock()

	if status != 0 {
		return fail(c, status, http.StatusText(status))
	}
	return c.Next()
}

func (s *Server) requireAuth(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return fail(c, fiber.StatusUnauthorized, "No token provided")
	}

	identity, err := s.identities.Verify(strings.TrimSpace(token))
	if err != nil {
		return fail(c, fiber.StatusUnauthorized, "Invalid token")
	}

	c.Locals(localsUID, identity.UID)
	return c.Next()
}

func (s *Server) requireAdmin(c *fiber.Ctx) error {
	s.mu.Lock()
	profile, ok := s.profiles[uidFrom(c)]
	isAdmin := ok && profile.IsAdmin
	s.mu.Unlock()

	if !isAdmin {
		return fail(c, fiber.StatusForbidden, "Admin access required")
	}
	return c.Next()
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var ferr *fiber.Error
	if goerrors.As(err, &ferr) {
		return fail(c, ferr.Code, ferr.Message)
	}
	return fail(c, fiber.StatusInternalServerError, err.Error())
}

func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}

func uidFrom(c *fiber.Ctx) string {
	uid, _ := c.Locals(localsUID).(string)
	return uid
}

// FailNext makes the next times requests to method+path answer with status
// before reaching any handler.
func (s *Server) FailNext(method, path string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToUpper(method) + " " + path
	for i := 0; i < times; i++ {
		s.failures[key] = append(s.failures[key], status)
	}
}

// Requests returns the recorded requests in order.
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestsTo returns the recorded requests for method+path.
func (s *Server) RequestsTo(method, path string) []RecordedRequest {
	var out []RecordedRequest
	for _, req := range s.Requests() {
		if req.Method == strings.ToUpper(method) && req.Path == path {
			out = append(out, req)
		}
	}
	return out
}

// ResetRequests clears the request log.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

// SetAdmin flips the admin flag of a registered user.
func (s *Server) SetAdmin(uid string, isAdmin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[uid]; ok {
		p.IsAdmin = isAdmin
	}
}

// SetDisplayName changes the backend display name of a registered user.
func (s *Server) SetDisplayName(uid, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[uid]; ok {
		p.DisplayName = name
	}
}

// Profile returns the stored profile for uid.
func (s *Server) Profile(uid string) (portal.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[uid]
	if !ok {
		return portal.Profile{}, false
	}
	return *p, true
}

// Notify adds a notification for uid.
func (s *Server) Notify(uid, title, message string, kind api.NotificationType) api.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.notifyLocked(uid, title, message, kind)
}
