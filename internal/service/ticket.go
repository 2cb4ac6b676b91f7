package service

import (
	"embed"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"provisioner/internal/model"
)

//go:embed templates/*.html
var builtinTemplates embed.FS

var ErrTemplateNotFound = errors.New("ticket template not found")

// TemplateStore maps a template id to raw text with {token} placeholders.
type TemplateStore interface {
	Template(id string) (string, error)
}

// FileTemplates reads <dir>/<id>.html and falls back to the built-in
// templates when the directory has no such file.
type FileTemplates struct {
	Dir string
}

func (f FileTemplates) Template(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("%w: invalid id %q", ErrTemplateNotFound, id)
	}

	if f.Dir != "" {
		data, err := os.ReadFile(filepath.Join(f.Dir, id+".html"))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read template %s: %w", id, err)
		}
	}

	data, err := builtinTemplates.ReadFile("templates/" + id + ".html")
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return string(data), nil
}

const missingValue = "N/A"

// RenderTicket fills the known {token} placeholders from req with
// HTML-escaped values. Empty values render as N/A; unknown tokens are left
// alone.
func RenderTicket(tpl string, req model.AccountCreationRequest) string {
	values := []struct {
		token string
		value string
	}{
		{"{customer_name}", req.FullName()},
		{"{first_name}", req.FirstName},
		{"{last_name}", req.LastName},
		{"{orderref}", req.OrderRef},
		{"{siteid}", req.SiteID},
		{"{email}", req.Email},
		{"{phone}", req.Phone},
		{"{address}", req.Street},
		{"{apt}", req.Apartment},
		{"{city}", req.City},
		{"{state}", req.State},
		{"{zip}", req.Zip},
	}

	pairs := make([]string, 0, len(values)*2)
	for _, v := range values {
		val := strings.TrimSpace(v.value)
		if val == "" {
			val = missingValue
		}
		pairs = append(pairs, v.token, html.EscapeString(val))
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}
