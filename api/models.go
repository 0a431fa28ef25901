package api

import (
	"time"

	"github.com/goliatone/go-portal"
)

// ProjectType is the kind of project described by a questionnaire.
type ProjectType string

const (
	ProjectWeb     ProjectType = "web"
	ProjectMobile  ProjectType = "mobile"
	ProjectDesktop ProjectType = "desktop"
	ProjectOther   ProjectType = "other"
)

// Status is the review status of a questionnaire.
type Status string

const (
	StatusPending    Status = "pending"
	StatusReviewed   Status = "reviewed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Statuses lists every review status in workflow order.
var Statuses = []Status{StatusPending, StatusReviewed, StatusInProgress, StatusCompleted}

// NotificationType is the severity of a notification.
type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
	NotificationWarning NotificationType = "warning"
	NotificationError   NotificationType = "error"
)

// Timeline is the requested project window.
type Timeline struct {
	StartDate time.Time `json:"startDate" yaml:"startDate"`
	EndDate   time.Time `json:"endDate" yaml:"endDate"`
}

// TechnicalRequirements groups the preferred technologies per layer.
type TechnicalRequirements struct {
	Frontend []string `json:"frontend" yaml:"frontend"`
	Backend  []string `json:"backend" yaml:"backend"`
	Database []string `json:"database" yaml:"database"`
	Hosting  []string `json:"hosting" yaml:"hosting"`
}

// QuestionnaireInput is the project questionnaire submitted by a user.
type QuestionnaireInput struct {
	ProjectName           string                `json:"projectName" yaml:"projectName"`
	ProjectType           ProjectType           `json:"projectType" yaml:"projectType"`
	BusinessDescription   string                `json:"businessDescription" yaml:"businessDescription"`
	TargetAudience        string                `json:"targetAudience" yaml:"targetAudience"`
	KeyFeatures           []string              `json:"keyFeatures" yaml:"keyFeatures"`
	Budget                float64               `json:"budget" yaml:"budget"`
	Timeline              Timeline              `json:"timeline" yaml:"timeline"`
	TechnicalRequirements TechnicalRequirements `json:"technicalRequirements" yaml:"technicalRequirements"`
	AdditionalNotes       string                `json:"additionalNotes,omitempty" yaml:"additionalNotes"`
}

// UserRef is the short form of a user embedded in other resources.
type UserRef struct {
	ID          string `json:"_id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// Feedback is the admin review note on a questionnaire.
type Feedback struct {
	Message   string     `json:"message"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Questionnaire is a stored questionnaire.
type Questionnaire struct {
	ID string `json:"_id"`
	QuestionnaireInput
	Status        Status     `json:"status"`
	AdminFeedback *Feedback  `json:"adminFeedback,omitempty"`
	SubmittedBy   *UserRef   `json:"submittedBy,omitempty"`
	SubmittedAt   *time.Time `json:"submittedAt,omitempty"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
}

// QuestionnaireSummary is the entry listed in a user's details.
type QuestionnaireSummary struct {
	ID          string     `json:"_id"`
	ProjectName string     `json:"projectName"`
	Status      Status     `json:"status"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
}

// StatusUpdate is the admin review of a questionnaire.
type StatusUpdate struct {
	Status        Status `json:"status"`
	AdminFeedback string `json:"adminFeedback,omitempty"`
}

// ProfileUpdate changes the caller's profile. Empty fields are left as is.
type ProfileUpdate struct {
	DisplayName    string `json:"displayName,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// Notification is a message for the signed in user.
type Notification struct {
	ID        string           `json:"_id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	Read      bool             `json:"read"`
	CreatedAt *time.Time       `json:"createdAt,omitempty"`
}

// UnreadCount is the unread notifications counter.
type UnreadCount struct {
	Count int `json:"count"`
}

// StatusCount is the number of questionnaires per status.
type StatusCount struct {
	Pending    int `json:"pending"`
	Reviewed   int `json:"reviewed"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
}

// RegistrationPeriod identifies a month.
type RegistrationPeriod struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// RegistrationStat is the number of sign ups in a month.
type RegistrationStat struct {
	Period RegistrationPeriod `json:"_id"`
	Count  int                `json:"count"`
}

// Analytics is the admin dashboard summary.
type Analytics struct {
	TotalUsers                int                    `json:"totalUsers"`
	TotalQuestionnaires       int                    `json:"totalQuestionnaires"`
	QuestionnairesStatusCount StatusCount            `json:"questionnairesStatusCount"`
	RecentQuestionnaires      []QuestionnaireSummary `json:"recentQuestionnaires"`
	UserRegistrationStats     []RegistrationStat     `json:"userRegistrationStats"`
}

// Page is the pagination envelope shared by admin lists.
type Page struct {
	Total       int `json:"total"`
	Pages       int `json:"pages"`
	CurrentPage int `json:"currentPage"`
}

// UserPage is a page of users.
type UserPage struct {
	Users []portal.Profile `json:"users"`
	Page
}

// QuestionnairePage is a page of questionnaires.
type QuestionnairePage struct {
	Questionnaires []Questionnaire `json:"questionnaires"`
	Page
}

// UserDetails is a user with their questionnaires.
type UserDetails struct {
	User           portal.Profile         `json:"user"`
	Questionnaires []QuestionnaireSummary `json:"questionnaires"`
}

// ListOptions filters admin lists.
type ListOptions struct {
	Page   int
	Limit  int
	Search string
	Status Status
}
