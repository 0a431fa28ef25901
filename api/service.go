package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-portal"
	"github.com/goliatone/go-portal/client"
)

const (
	pathRegister        = "/api/auth/register"
	pathProfile         = "/api/auth/profile"
	pathQuestionnaire   = "/api/questionnaire"
	pathMyQuestionnaire = "/api/questionnaire/my"
	pathAdminQuest      = "/api/questionnaire/admin"
	pathAdminUsers      = "/api/admin/users"
	pathAnalytics       = "/api/admin/analytics"
	pathNotifications   = "/api/users/notifications"
)

// ErrMissingID is returned when a resource id is blank.
var ErrMissingID = goerrors.New("resource id is required", goerrors.CategoryBadInput).
	WithTextCode("MISSING_ID").
	WithCode(goerrors.CodeBadRequest)

// Service wraps every backend endpoint used by the portal. It satisfies
// portal.ProfileService, so it can back a session Provider directly.
type Service struct {
	client *client.Client
}

var _ portal.ProfileService = (*Service)(nil)

// NewService returns a service over c.
func NewService(c *client.Client) *Service {
	return &Service{client: c}
}

// Client returns the underlying HTTP client.
func (s *Service) Client() *client.Client {
	return s.client
}

// Register creates the backend account. It is sent without credentials.
func (s *Service) Register(ctx context.Context, input portal.SignUpInput) error {
	return s.client.Call(ctx, client.Request{
		Method:   http.MethodPost,
		Path:     pathRegister,
		Body:     input,
		SkipAuth: true,
	}, nil)
}

// FetchProfile loads the profile for an identity token. The token is sent
// as is, bypassing the client's token source, since the session it would
// come from does not exist yet.
func (s *Service) FetchProfile(ctx context.Context, token string) (*portal.Profile, error) {
	if token == "" {
		return nil, portal.ErrNotAuthenticated
	}
	var profile portal.Profile
	if err := s.client.Call(ctx, client.Request{
		Method: http.MethodGet,
		Path:   pathProfile,
		Token:  token,
	}, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Profile returns the signed in user's profile.
func (s *Service) Profile(ctx context.Context) (*portal.Profile, error) {
	var profile portal.Profile
	if err := s.client.Get(ctx, pathProfile, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// UpdateProfile changes the display name or picture.
func (s *Service) UpdateProfile(ctx context.Context, update ProfileUpdate) (*portal.Profile, error) {
	update.DisplayName = strings.TrimSpace(update.DisplayName)
	update.ProfilePicture = strings.TrimSpace(update.ProfilePicture)
	if err := update.Validate(); err != nil {
		return nil, err
	}
	var profile portal.Profile
	if err := s.client.Patch(ctx, pathProfile, update, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// SubmitQuestionnaire normalizes, validates and submits a questionnaire.
func (s *Service) SubmitQuestionnaire(ctx context.Context, input QuestionnaireInput) (*Questionnaire, error) {
	input = input.Normalize()
	if err := input.Validate(); err != nil {
		return nil, err
	}
	var out Questionnaire
	if err := s.client.Post(ctx, pathQuestionnaire, input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MyQuestionnaires lists the caller's questionnaires.
func (s *Service) MyQuestionnaires(ctx context.Context) ([]Questionnaire, error) {
	var out []Questionnaire
	if err := s.client.Get(ctx, pathMyQuestionnaire, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Questionnaire returns one of the caller's questionnaires.
func (s *Service) Questionnaire(ctx context.Context, id string) (*Questionnaire, error) {
	path, err := resourcePath(pathQuestionnaire, id)
	if err != nil {
		return nil, err
	}
	var out Questionnaire
	if err := s.client.Get(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateQuestionnaire replaces the fields of a pending questionnaire.
func (s *Service) UpdateQuestionnaire(ctx context.Context, id string, input QuestionnaireInput) (*Questionnaire, error) {
	path, err := resourcePath(pathQuestionnaire, id)
	if err != nil {
		return nil, err
	}
	input = input.Normalize()
	if err := input.Validate(); err != nil {
		return nil, err
	}
	var out Questionnaire
	if err := s.client.Patch(ctx, path, input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteQuestionnaire removes one of the caller's questionnaires.
func (s *Service) DeleteQuestionnaire(ctx context.Context, id string) error {
	path, err := resourcePath(pathQuestionnaire, id)
	if err != nil {
		return err
	}
	return s.client.Delete(ctx, path, nil)
}

// AllQuestionnaires lists every questionnaire (admin).
func (s *Service) AllQuestionnaires(ctx context.Context, opts ListOptions) (*QuestionnairePage, error) {
	var out QuestionnairePage
	if err := s.client.Get(ctx, pathAdminQuest+"/all", opts.query(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AdminQuestionnaire returns any questionnaire (admin).
func (s *Service) AdminQuestionnaire(ctx context.Context, id string) (*Questionnaire, error) {
	path, err := resourcePath(pathAdminQuest, id)
	if err != nil {
		return nil, err
	}
	var out Questionnaire
	if err := s.client.Get(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateQuestionnaireStatus reviews a questionnaire (admin).
func (s *Service) UpdateQuestionnaireStatus(ctx context.Context, id string, update StatusUpdate) (*Questionnaire, error) {
	path, err := resourcePath(pathAdminQuest, id)
	if err != nil {
		return nil, err
	}
	update.AdminFeedback = strings.TrimSpace(update.AdminFeedback)
	if err := update.Validate(); err != nil {
		return nil, err
	}
	var out Questionnaire
	if err := s.client.Patch(ctx, path, update, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Users lists users (admin).
func (s *Service) Users(ctx context.Context, opts ListOptions) (*UserPage, error) {
	var out UserPage
	if err := s.client.Get(ctx, pathAdminUsers, opts.query(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UserDetails returns a user and their questionnaires (admin).
func (s *Service) UserDetails(ctx context.Context, userID string) (*UserDetails, error) {
	path, err := resourcePath(pathAdminUsers, userID)
	if err != nil {
		return nil, err
	}
	var out UserDetails
	if err := s.client.Get(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateUserRole grants or revokes admin rights (admin).
func (s *Service) UpdateUserRole(ctx context.Context, userID string, isAdmin bool) (*portal.Profile, error) {
	path, err := resourcePath(pathAdminUsers, userID)
	if err != nil {
		return nil, err
	}
	var out portal.Profile
	if err := s.client.Patch(ctx, path+"/role", map[string]bool{"isAdmin": isAdmin}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteUser removes a user (admin).
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	path, err := resourcePath(pathAdminUsers, userID)
	if err != nil {
		return err
	}
	return s.client.Delete(ctx, path, nil)
}

// Analytics returns the dashboard summary (admin).
func (s *Service) Analytics(ctx context.Context) (*Analytics, error) {
	var out Analytics
	if err := s.client.Get(ctx, pathAnalytics, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Notifications lists the caller's notifications, newest first.
func (s *Service) Notifications(ctx context.Context) ([]Notification, error) {
	var out []Notification
	if err := s.client.Get(ctx, pathNotifications, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkNotificationRead marks one notification as read.
func (s *Service) MarkNotificationRead(ctx context.Context, id string) (*Notification, error) {
	path, err := resourcePath(pathNotifications, id)
	if err != nil {
		return nil, err
	}
	var out Notification
	if err := s.client.Patch(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkAllNotificationsRead marks every notification as read.
func (s *Service) MarkAllNotificationsRead(ctx context.Context) error {
	return s.client.Post(ctx, pathNotifications+"/mark-all-read", nil, nil)
}

// UnreadNotificationsCount returns the number of unread notifications.
func (s *Service) UnreadNotificationsCount(ctx context.Context) (int, error) {
	var out UnreadCount
	if err := s.client.Get(ctx, pathNotifications+"/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if s := strings.TrimSpace(o.Search); s != "" {
		q.Set("search", s)
	}
	if o.Status != "" && o.Status != "all" {
		q.Set("status", string(o.Status))
	}
	return q
}

func resourcePath(base, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrMissingID
	}
	return base + "/" + url.PathEscape(id), nil
}
