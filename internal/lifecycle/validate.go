package lifecycle

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ingressValidate checks request shapes. Field names in errors use the
// JSON names.
var ingressValidate *validator.Validate

func init() {
	ingressValidate = validator.New(validator.WithRequiredStructEnabled())
	ingressValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate checks any request struct declared in this package and converts
// failures into a *ValidationError.
func Validate(req any) error {
	err := ingressValidate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Fields: []FieldError{{Field: "request", Message: err.Error()}}}
	}
	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fieldPath(fe), Message: describe(fe)})
	}
	return out
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// NormalizeSubmit trims and canonicalizes a submission in place.
func NormalizeSubmit(req *SubmitRequest) {
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	req.Summary = strings.TrimSpace(req.Summary)
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	req.Scope = normalizeScope(req.Scope)
	req.Files = normalizeFiles(req.Files)
	req.KPIKey = strings.TrimSpace(req.KPIKey)
	req.CorrelationID = strings.TrimSpace(req.CorrelationID)
	req.SubmittedBy = strings.TrimSpace(req.SubmittedBy)
}

// NormalizeEdit trims and canonicalizes an edit in place.
func NormalizeEdit(req *EditRequest) {
	trimPtr := func(s *string) {
		if s != nil {
			*s = strings.TrimSpace(*s)
		}
	}
	trimPtr(req.Title)
	trimPtr(req.Description)
	trimPtr(req.Summary)
	if req.Type != nil {
		t := strings.ToLower(strings.TrimSpace(*req.Type))
		req.Type = &t
	}
	if req.Scope != nil {
		req.Scope = normalizeScope(req.Scope)
	}
	if req.Files != nil {
		req.Files = normalizeFiles(req.Files)
	}
	req.Note = strings.TrimSpace(req.Note)
}

func normalizeScope(scope []string) []string {
	out := make([]string, 0, len(scope))
	seen := make(map[string]bool, len(scope))
	for _, s := range scope {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// normalizeFiles converts separators and trims whitespace. Paths that
// escape the repository are kept as given so the guard can deny them.
func normalizeFiles(files []FileChange) []FileChange {
	out := make([]FileChange, len(files))
	for i, f := range files {
		f.Path = strings.TrimSpace(strings.ReplaceAll(f.Path, "\\", "/"))
		f.Action = strings.ToLower(strings.TrimSpace(f.Action))
		if f.Action == "" {
			f.Action = "modify"
		}
		out[i] = f
	}
	return out
}
