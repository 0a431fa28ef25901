package api

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
)

var errEndBeforeStart = errors.New("must not be before the start date")

// Normalize trims text fields and drops blank entries from the list
// fields, the way the questionnaire form does before submitting.
func (in QuestionnaireInput) Normalize() QuestionnaireInput {
	in.ProjectName = strings.TrimSpace(in.ProjectName)
	in.ProjectType = ProjectType(strings.ToLower(strings.TrimSpace(string(in.ProjectType))))
	in.BusinessDescription = strings.TrimSpace(in.BusinessDescription)
	in.TargetAudience = strings.TrimSpace(in.TargetAudience)
	in.AdditionalNotes = strings.TrimSpace(in.AdditionalNotes)
	in.KeyFeatures = compact(in.KeyFeatures)
	in.TechnicalRequirements = TechnicalRequirements{
		Frontend: compact(in.TechnicalRequirements.Frontend),
		Backend:  compact(in.TechnicalRequirements.Backend),
		Database: compact(in.TechnicalRequirements.Database),
		Hosting:  compact(in.TechnicalRequirements.Hosting),
	}
	return in
}

// Validate checks a normalized questionnaire.
func (in QuestionnaireInput) Validate() error {
	if verr := goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&in,
			validation.Field(&in.ProjectName, validation.Required, validation.Length(1, 200)),
			validation.Field(&in.ProjectType, validation.Required,
				validation.In(ProjectWeb, ProjectMobile, ProjectDesktop, ProjectOther)),
			validation.Field(&in.BusinessDescription, validation.Required),
			validation.Field(&in.TargetAudience, validation.Required),
			validation.Field(&in.KeyFeatures, validation.Required),
			validation.Field(&in.Budget, validation.Required, validation.Min(0.0).Exclusive()),
			validation.Field(&in.Timeline, validation.By(validateTimeline)),
		)
	}, "Invalid questionnaire"); verr != nil {
		return verr
	}
	return nil
}

func validateTimeline(value any) error {
	timeline, ok := value.(Timeline)
	if !ok {
		return nil
	}
	if timeline.StartDate.IsZero() || timeline.EndDate.IsZero() {
		return nil
	}
	if timeline.EndDate.Before(timeline.StartDate) {
		return errEndBeforeStart
	}
	return nil
}

// Validate checks the status against the review workflow.
func (u StatusUpdate) Validate() error {
	if verr := goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&u,
			validation.Field(&u.Status, validation.Required,
				validation.In(StatusPending, StatusReviewed, StatusInProgress, StatusCompleted)),
		)
	}, "Invalid status update"); verr != nil {
		return verr
	}
	return nil
}

// Validate rejects empty updates.
func (u ProfileUpdate) Validate() error {
	if verr := goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&u,
			validation.Field(&u.DisplayName, validation.Length(0, 80)),
			validation.Field(&u.ProfilePicture, validation.When(u.DisplayName == "", validation.Required)),
		)
	}, "Nothing to update"); verr != nil {
		return verr
	}
	return nil
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
