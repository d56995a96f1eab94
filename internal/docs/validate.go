package docs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/go-playground/validator"
)

const dateLayout = "2006-01-02"

// Severity of an issue. Only errors fail a lint run.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one problem found in a document.
type Issue struct {
	Path     string   `json:"path"`
	Field    string   `json:"field,omitempty"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	if i.Field != "" {
		return fmt.Sprintf("%s: %s: %s: %s", i.Path, i.Severity, i.Field, i.Message)
	}
	return fmt.Sprintf("%s: %s: %s", i.Path, i.Severity, i.Message)
}

// Frontmatter is the documentation schema.
type Frontmatter struct {
	Title       string   `yaml:"title" validate:"required"`
	DocType     string   `yaml:"doc_type" validate:"required,oneof=spec guide reference lore process index"`
	Status      string   `yaml:"status" validate:"required,oneof=draft review approved deprecated"`
	LastUpdated string   `yaml:"last_updated" validate:"required"`
	Owner       string   `yaml:"owner"`
	Tags        []string `yaml:"tags" validate:"unique,dive,required"`
}

var knownFields = []string{"title", "doc_type", "status", "last_updated", "owner", "tags"}

// Validator checks documents against the frontmatter schema.
type Validator struct {
	SkipReadme bool
	validate   *validator.Validate
}

// NewValidator creates a validator. README.md files are skipped by default.
func NewValidator() *Validator {
	return &Validator{SkipReadme: true, validate: validator.New()}
}

// ValidateDocument checks one document's content.
func (v *Validator) ValidateDocument(path string, content []byte) []Issue {
	fields, _, err := ParseFrontmatter(content)
	if err != nil {
		return []Issue{{Path: path, Severity: SeverityError, Message: err.Error()}}
	}

	var issues []Issue
	for _, key := range sortedKeys(fields) {
		if !isKnownField(key) {
			msg := "unknown field"
			if s := suggest(key); s != "" {
				msg = fmt.Sprintf("unknown field, did you mean %q?", s)
			}
			issues = append(issues, Issue{Path: path, Field: key, Severity: SeverityWarning, Message: msg})
		}
	}

	fm, err := decode(fields)
	if err != nil {
		return append(issues, Issue{Path: path, Severity: SeverityError, Message: err.Error()})
	}

	if err := v.validate.Struct(fm); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				issues = append(issues, Issue{Path: path, Field: yamlName(fe.StructField()), Severity: SeverityError, Message: describe(fe)})
			}
		} else {
			issues = append(issues, Issue{Path: path, Severity: SeverityError, Message: err.Error()})
		}
	}

	if fm.LastUpdated != "" {
		if _, err := time.Parse(dateLayout, fm.LastUpdated); err != nil {
			issues = append(issues, Issue{Path: path, Field: "last_updated", Severity: SeverityError,
				Message: fmt.Sprintf("%q is not a YYYY-MM-DD date", fm.LastUpdated)})
		}
	}
	return issues
}

// ValidateTree checks every Markdown file below root. Issues are sorted by path.
func (v *Validator) ValidateTree(ctx context.Context, root string) ([]Issue, int, error) {
	var issues []Issue
	checked := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		if v.SkipReadme && strings.EqualFold(d.Name(), "README.md") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		checked++
		issues = append(issues, v.ValidateDocument(path, content)...)
		return nil
	})
	if err != nil {
		return nil, checked, fmt.Errorf("failed to lint %s: %w", root, err)
	}
	sort.SliceStable(issues, func(i, j int) bool { return issues[i].Path < issues[j].Path })

	slog.Info("docs: lint complete", "root", root, "documents", checked, "issues", len(issues))
	return issues, checked, nil
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// decode maps raw fields onto the schema. Dates written unquoted in YAML
// arrive as time.Time and are normalised back to their text form.
func decode(fields map[string]any) (*Frontmatter, error) {
	fm := &Frontmatter{}
	str := func(key string) (string, error) {
		switch v := fields[key].(type) {
		case nil:
			return "", nil
		case string:
			return v, nil
		case time.Time:
			return v.Format(dateLayout), nil
		case int, float64, bool:
			return fmt.Sprint(v), nil
		default:
			return "", fmt.Errorf("field %s must be a scalar", key)
		}
	}

	var err error
	if fm.Title, err = str("title"); err != nil {
		return nil, err
	}
	if fm.DocType, err = str("doc_type"); err != nil {
		return nil, err
	}
	if fm.Status, err = str("status"); err != nil {
		return nil, err
	}
	if fm.LastUpdated, err = str("last_updated"); err != nil {
		return nil, err
	}
	if fm.Owner, err = str("owner"); err != nil {
		return nil, err
	}

	switch tags := fields["tags"].(type) {
	case nil:
	case []any:
		for _, t := range tags {
			s, ok := t.(string)
			if !ok {
				return nil, fmt.Errorf("field tags must be a list of strings")
			}
			fm.Tags = append(fm.Tags, s)
		}
	default:
		return nil, fmt.Errorf("field tags must be a list of strings")
	}
	return fm, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("%q is not one of [%s]", fmt.Sprint(fe.Value()), fe.Param())
	case "unique":
		return "contains duplicate values"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func yamlName(structField string) string {
	// StructField may carry an index, e.g. Tags[1]
	name := structField
	idx := ""
	if i := strings.IndexByte(name, '['); i >= 0 {
		name, idx = name[:i], name[i:]
	}
	switch name {
	case "DocType":
		name = "doc_type"
	case "LastUpdated":
		name = "last_updated"
	default:
		name = strings.ToLower(name)
	}
	return name + idx
}

func isKnownField(key string) bool {
	for _, k := range knownFields {
		if k == key {
			return true
		}
	}
	return false
}

func suggest(key string) string {
	best, bestDist := "", 3
	for _, k := range knownFields {
		if d := levenshtein.ComputeDistance(strings.ToLower(key), k); d < bestDist {
			best, bestDist = k, d
		}
	}
	return best
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
