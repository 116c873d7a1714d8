package site

import (
	"context"
	"embed"
	"html/template"
	"io"
	"slices"
	"time"

	"github.com/a-h/templ"

	"github.com/seismic-bv/seismic/internal/contact"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// DefaultStatusPath is where the status websocket is served.
const DefaultStatusPath = "/ws/status"

// ContactView is the render state of the contact section.
type ContactView struct {
	Form   contact.Form
	Status contact.Status
	// SubmissionID links the banner to the status websocket.
	SubmissionID  string
	InvalidFields []string
	ClearAfter    time.Duration
}

// PageView carries the per-request parts of the page.
type PageView struct {
	Contact ContactView
	// Nonce is the CSP nonce for the inline script.
	Nonce      string
	Now        time.Time
	StatusPath string
}

type contactData struct {
	ContactView
	Copy       ContactCopy
	Nonce      string
	StatusPath string
}

func (d contactData) ClearAfterMillis() int64 {
	if d.ClearAfter <= 0 {
		return contact.DefaultClearAfter.Milliseconds()
	}
	return d.ClearAfter.Milliseconds()
}

func (d contactData) Invalid(field string) bool {
	return slices.Contains(d.InvalidFields, field)
}

type footerData struct {
	FooterCopy
	Year int
}

func render(name string, data any) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return templates.ExecuteTemplate(w, name, data)
	})
}

// Header renders the navigation bar with the section anchors.
func Header(c *Content) templ.Component { return render("header", c) }

// Hero renders the landing banner.
func Hero(c *Content) templ.Component { return render("hero", c.Hero) }

// Projects renders the service cards.
func Projects(c *Content) templ.Component { return render("projects", c.Services) }

// Collaborations renders the partner list.
func Collaborations(c *Content) templ.Component { return render("collaborations", c.Collaborations) }

// Publications renders the publication list with DOI links.
func Publications(c *Content) templ.Component { return render("publications", c.Publications) }

// Profiles renders the team profiles.
func Profiles(c *Content) templ.Component { return render("profiles", c.Profiles) }

// Contact renders the form, its banner and the banner script.
func Contact(c *Content, view PageView) templ.Component {
	statusPath := view.StatusPath
	if statusPath == "" {
		statusPath = DefaultStatusPath
	}
	return render("contact", contactData{
		ContactView: view.Contact,
		Copy:        c.Contact,
		Nonce:       view.Nonce,
		StatusPath:  statusPath,
	})
}

// Footer renders the copyright line for the year of now.
func Footer(c *Content, now time.Time) templ.Component {
	return render("footer", footerData{FooterCopy: c.Footer, Year: now.Year()})
}

// Page renders the whole document.
func Page(c *Content, view PageView) templ.Component {
	now := view.Now
	if now.IsZero() {
		now = time.Now()
	}
	parts := []templ.Component{
		render("document_start", c),
		Header(c),
		templ.Raw("<main>\n"),
		Hero(c),
		Projects(c),
		Collaborations(c),
		Publications(c),
		Profiles(c),
		Contact(c, view),
		templ.Raw("</main>\n"),
		Footer(c, now),
		render("document_end", nil),
	}
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		for _, part := range parts {
			if err := part.Render(ctx, w); err != nil {
				return err
			}
		}
		return nil
	})
}
