package backendtest

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-portal"
	"github.com/goliatone/go-portal/api"
	"github.com/google/uuid"
)

const defaultPageSize = 10

func (s *Server) register(c *fiber.Ctx) error {
	var input portal.SignUpInput
	if err := c.BodyParser(&input); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	input = input.Normalize()
	if input.Email == "" || input.Password == "" || input.DisplayName == "" {
		return fail(c, fiber.StatusBadRequest, "Email, password and display name are required")
	}

	identity, err := s.identities.CreateUser(c.UserContext(), input.Email, input.Password, input.DisplayName)
	if err != nil {
		if portal.HasTextCode(err, portal.TextCodeEmailInUse) {
			return fail(c, fiber.StatusBadRequest, "User already exists")
		}
		return fail(c, fiber.StatusBadRequest, portal.UserMessage(err))
	}

	now := s.now()
	profile := &portal.Profile{
		ID:          identity.UID,
		Email:       identity.Email,
		DisplayName: input.DisplayName,
		CreatedAt:   &now,
	}

	s.mu.Lock()
	s.profiles[identity.UID] = profile
	out := *profile
	s.mu.Unlock()

	return c.Status(fiber.StatusCreated).JSON(out)
}

func (s *Server) getProfile(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[uidFrom(c)]
	if !ok {
		return fail(c, fiber.StatusNotFound, "User not found")
	}
	now := s.now()
	profile.LastLogin = &now
	return c.JSON(*profile)
}

func (s *Server) updateProfile(c *fiber.Ctx) error {
	var update api.ProfileUpdate
	if err := c.BodyParser(&update); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[uidFrom(c)]
	if !ok {
		return fail(c, fiber.StatusNotFound, "User not found")
	}
	if name := strings.TrimSpace(update.DisplayName); name != "" {
		profile.DisplayName = name
	}
	if pic := strings.TrimSpace(update.ProfilePicture); pic != "" {
		profile.ProfilePicture = pic
	}
	return c.JSON(*profile)
}

func (s *Server) submitQuestionnaire(c *fiber.Ctx) error {
	var input api.QuestionnaireInput
	if err := c.BodyParser(&input); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if err := input.Validate(); err != nil {
		return fail(c, fiber.StatusBadRequest, portal.UserMessage(err))
	}

	uid := uidFrom(c)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[uid]
	if !ok {
		return fail(c, fiber.StatusNotFound, "User not found")
	}

	q := &api.Questionnaire{
		ID:                 uuid.NewString(),
		QuestionnaireInput: input,
		Status:             api.StatusPending,
		SubmittedBy: &api.UserRef{
			ID:          profile.ID,
			DisplayName: profile.DisplayName,
			Email:       profile.Email,
		},
		SubmittedAt: &now,
		CreatedAt:   &now,
		UpdatedAt:   &now,
	}
	s.questionnaires[q.ID] = q
	s.order = append(s.order, q.ID)

	s.notifyLocked(uid, "Questionnaire submitted",
		"Your questionnaire \""+q.ProjectName+"\" has been received.", api.NotificationSuccess)

	return c.Status(fiber.StatusCreated).JSON(*q)
}

func (s *Server) myQuestionnaires(c *fiber.Ctx) error {
	uid := uidFrom(c)

	s.mu.Lock()
	defer s.mu.Unlock()

	out := []api.Questionnaire{}
	for i := len(s.order) - 1; i >= 0; i-- {
		q := s.questionnaires[s.order[i]]
		if q.SubmittedBy != nil && q.SubmittedBy.ID == uid {
			out = append(out, *q)
		}
	}
	return c.JSON(out)
}

// ownedLocked returns the questionnaire when uid submitted it.
func (s *Server) ownedLocked(c *fiber.Ctx) (*api.Questionnaire, error) {
	q, ok := s.questionnaires[c.Params("id")]
	if !ok || q.SubmittedBy == nil || q.SubmittedBy.ID != uidFrom(c) {
		return nil, fail(c, fiber.StatusNotFound, "Questionnaire not found")
	}
	return q, nil
}

func (s *Server) getQuestionnaire(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ferr := s.ownedLocked(c)
	if q == nil {
		return ferr
	}
	return c.JSON(*q)
}

func (s *Server) updateQuestionnaire(c *fiber.Ctx) error {
	var input api.QuestionnaireInput
	if err := c.BodyParser(&input); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if err := input.Validate(); err != nil {
		return fail(c, fiber.StatusBadRequest, portal.UserMessage(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q, ferr := s.ownedLocked(c)
	if q == nil {
		return ferr
	}
	if q.Status != api.StatusPending {
		return fail(c, fiber.StatusBadRequest, "Only pending questionnaires can be edited")
	}

	now := s.now()
	q.QuestionnaireInput = input
	q.UpdatedAt = &now
	return c.JSON(*q)
}

func (s *Server) deleteQuestionnaire(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ferr := s.ownedLocked(c)
	if q == nil {
		return ferr
	}
	s.removeQuestionnaireLocked(q.ID)
	return c.JSON(fiber.Map{"message": "Questionnaire deleted"})
}

func (s *Server) allQuestionnaires(c *fiber.Ctx) error {
	page, limit := pagination(c)
	status := api.Status(c.Query("status"))

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := []api.Questionnaire{}
	for i := len(s.order) - 1; i >= 0; i-- {
		q := s.questionnaires[s.order[i]]
		if status != "" && status != "all" && q.Status != status {
			continue
		}
		matched = append(matched, *q)
	}

	items, meta := paginate(matched, page, limit)
	return c.JSON(api.QuestionnairePage{Questionnaires: items, Page: meta})
}

func (s *Server) adminQuestionnaire(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.questionnaires[c.Params("id")]
	if !ok {
		return fail(c, fiber.StatusNotFound, "Questionnaire not found")
	}
	return c.JSON(*q)
}

func (s *Server) reviewQuestionnaire(c *fiber.Ctx) error {
	var update api.StatusUpdate
	if err := c.BodyParser(&update); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if err := update.Validate(); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid status")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.questionnaires[c.Params("id")]
	if !ok {
		return fail(c, fiber.StatusNotFound, "Questionnaire not found")
	}

	now := s.now()
	q.Status = update.Status
	q.UpdatedAt = &now
	if update.AdminFeedback != "" {
		if q.AdminFeedback == nil {
			q.AdminFeedback = &api.Feedback{CreatedAt: &now}
		}
		q.AdminFeedback.Message = update.AdminFeedback
		q.AdminFeedback.UpdatedAt = &now
	}

	if q.SubmittedBy != nil {
		s.notifyLocked(q.SubmittedBy.ID, "Questionnaire status updated",
			"Your questionnaire \""+q.ProjectName+"\" is now "+string(q.Status)+".", api.NotificationInfo)
	}

	return c.JSON(*q)
}

func (s *Server) listUsers(c *fiber.Ctx) error {
	page, limit := pagination(c)
	search := strings.ToLower(strings.TrimSpace(c.Query("search")))

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := []portal.Profile{}
	for _, p := range s.sortedProfilesLocked() {
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Email), search) &&
			!strings.Contains(strings.ToLower(p.DisplayName), search) {
			continue
		}
		matched = append(matched, *p)
	}

	items, meta := paginate(matched, page, limit)
	return c.JSON(api.UserPage{Users: items, Page: meta})
}

func (s *Server) userDetails(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[c.Params("id")]
	if !ok {
		return fail(c, fiber.StatusNotFound, "User not found")
	}

	summaries := []api.QuestionnaireSummary{}
	for i := len(s.order) - 1; i >= 0; i-- {
		q := s.questionnaires[s.order[i]]
		if q.SubmittedBy != nil && q.SubmittedBy.ID == profile.ID {
			summaries = append(summaries, summarize(q))
		}
	}

	return c.JSON(api.UserDetails{User: *profile, Questionnaires: summaries})
}

func (s *Server) updateRole(c *fiber.Ctx) error {
	var body struct {
		IsAdmin *bool `json:"isAdmin"`
	}
	if err := c.BodyParser(&body); err != nil || body.IsAdmin == nil {
		return fail(c, fiber.StatusBadRequest, "isAdmin is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[c.Params("id")]
	if !ok {
		return fail(c, fiber.StatusNotFound, "User not found")
	}
	profile.IsAdmin = *body.IsAdmin
	return c.JSON(*profile)
}

func (s *Server) deleteUser(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == uidFrom(c) {
		return fail(c, fiber.StatusBadRequest, "You cannot delete your own account")
	}

	s.mu.Lock()
	if _, ok := s.profiles[id]; !ok {
		s.mu.Unlock()
		return fail(c, fiber.StatusNotFound, "User not found")
	}
	delete(s.profiles, id)
	delete(s.notifications, id)
	for _, qid := range append([]string(nil), s.order...) {
		if q := s.questionnaires[qid]; q.SubmittedBy != nil && q.SubmittedBy.ID == id {
			s.removeQuestionnaireLocked(qid)
		}
	}
	s.mu.Unlock()

	if deleter, ok := s.identities.(identityDeleter); ok {
		deleter.DeleteUser(id)
	}

	return c.JSON(fiber.Map{"message": "User deleted"})
}

func (s *Server) analytics(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := api.Analytics{
		TotalUsers:            len(s.profiles),
		TotalQuestionnaires:   len(s.questionnaires),
		RecentQuestionnaires:  []api.QuestionnaireSummary{},
		UserRegistrationStats: []api.RegistrationStat{},
	}

	for _, q := range s.questionnaires {
		switch q.Status {
		case api.StatusPending:
			out.QuestionnairesStatusCount.Pending++
		case api.StatusReviewed:
			out.QuestionnairesStatusCount.Reviewed++
		case api.StatusInProgress:
			out.QuestionnairesStatusCount.InProgress++
		case api.StatusCompleted:
			out.QuestionnairesStatusCount.Completed++
		}
	}

	for i := len(s.order) - 1; i >= 0 && len(out.RecentQuestionnaires) < 5; i-- {
		out.RecentQuestionnaires = append(out.RecentQuestionnaires, summarize(s.questionnaires[s.order[i]]))
	}

	counts := map[api.RegistrationPeriod]int{}
	for _, p := range s.profiles {
		if p.CreatedAt == nil {
			continue
		}
		counts[api.RegistrationPeriod{Year: p.CreatedAt.Year(), Month: int(p.CreatedAt.Month())}]++
	}
	for period, count := range counts {
		out.UserRegistrationStats = append(out.UserRegistrationStats, api.RegistrationStat{Period: period, Count: count})
	}
	sort.Slice(out.UserRegistrationStats, func(i, j int) bool {
		a, b := out.UserRegistrationStats[i].Period, out.UserRegistrationStats[j].Period
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Month < b.Month
	})

	return c.JSON(out)
}

func (s *Server) listNotifications(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.notifications[uidFrom(c)]
	out := make([]api.Notification, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, *list[i])
	}
	return c.JSON(out)
}

func (s *Server) markRead(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.notifications[uidFrom(c)] {
		if n.ID == c.Params("id") {
			n.Read = true
			return c.JSON(*n)
		}
	}
	return fail(c, fiber.StatusNotFound, "Notification not found")
}

func (s *Server) markAllRead(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.notifications[uidFrom(c)] {
		n.Read = true
	}
	return c.JSON(fiber.Map{"message": "All notifications marked as read"})
}

func (s *Server) unreadCount(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, n := range s.notifications[uidFrom(c)] {
		if !n.Read {
			count++
		}
	}
	return c.JSON(api.UnreadCount{Count: count})
}

func (s *Server) notifyLocked(uid, title, message string, kind api.NotificationType) *api.Notification {
	now := s.now()
	n := &api.Notification{
		ID:        uuid.NewString(),
		Title:     title,
		Message:   message,
		Type:      kind,
		CreatedAt: &now,
	}
	s.notifications[uid] = append(s.notifications[uid], n)
	return n
}

func (s *Server) removeQuestionnaireLocked(id string) {
	delete(s.questionnaires, id)
	for i, qid := range s.order {
		if qid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *Server) sortedProfilesLocked() []*portal.Profile {
	out := make([]*portal.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := createdAt(out[i]), createdAt(out[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].Email < out[j].Email
	})
	return out
}

func createdAt(p *portal.Profile) time.Time {
	if p.CreatedAt == nil {
		return time.Time{}
	}
	return *p.CreatedAt
}

func summarize(q *api.Questionnaire) api.QuestionnaireSummary {
	return api.QuestionnaireSummary{
		ID:          q.ID,
		ProjectName: q.ProjectName,
		Status:      q.Status,
		CreatedAt:   q.CreatedAt,
	}
}

func pagination(c *fiber.Ctx) (int, int) {
	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", defaultPageSize)
	if limit < 1 {
		limit = defaultPageSize
	}
	return page, limit
}

func paginate[T any](items []T, page, limit int) ([]T, api.Page) {
	total := len(items)
	pages := int(math.Ceil(float64(total) / float64(limit)))
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return items[start:end], api.Page{Total: total, Pages: pages, CurrentPage: page}
}
