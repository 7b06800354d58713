package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"

	"github.com/scottring/ParentPulse-sub002/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var roleSectionTemplate = template.Must(
	template.New("role_section.html").Funcs(template.FuncMap{
		"formatDate": func(t time.Time) string {
			return t.Format("Jan 2, 2006")
		},
		"join": strings.Join,
	}).ParseFS(templateFS, "templates/role_section.html"),
)

// TemplateData holds data for role section rendering.
type TemplateData struct {
	Section     store.RoleSection
	GeneratedAt time.Time
}

// RenderRoleSectionHTML renders the printable page for a section.
func RenderRoleSectionHTML(data TemplateData) (string, error) {
	data.Section.Normalize()
	var buf bytes.Buffer
	if err := roleSectionTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
