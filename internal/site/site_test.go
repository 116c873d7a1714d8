package site

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/seismic-bv/seismic/internal/contact"
	"github.com/seismic-bv/seismic/internal/errors"
)

func mustDefault(t *testing.T) *Content {
	t.Helper()
	c, err := DefaultContent()
	require.NoError(t, err)
	return c
}

func renderPage(t *testing.T, c *Content, view PageView) (string, *html.Node) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Page(c, view).Render(context.Background(), &buf))
	doc, err := html.Parse(strings.NewReader(buf.String()))
	require.NoError(t, err)
	return buf.String(), doc
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func byTag(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.Data == tag }
}

func byID(id string) func(*html.Node) bool {
	return func(n *html.Node) bool { return attr(n, "id") == id }
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

func TestDefaultContent(t *testing.T) {
	c := mustDefault(t)

	assert.Equal(t, "Seismic", c.Brand)
	assert.Equal(t, "Deep Research and Consulting", c.Hero.Title)
	assert.Len(t, c.Services.Items, 4)
	assert.Len(t, c.Collaborations.Items, 5)
	assert.Len(t, c.Publications.Items, 4)
	assert.Len(t, c.Profiles.Items, 2)

	var anchors []string
	for _, link := range c.Nav {
		anchors = append(anchors, link.Anchor)
	}
	assert.Equal(t, []string{"projects", "collaborations", "publications", "profiles", "contact"}, anchors)
	assert.Equal(t, "https://doi.org/10.1016/j.trc.2024.104511", c.Publications.Items[1].DOIURL())
	assert.Empty(t, c.Publications.Items[0].DOIURL())
}

func TestParseContentRejects(t *testing.T) {
	valid, err := os.ReadFile("content.yaml")
	require.NoError(t, err)
	base := string(valid)

	testCases := []struct {
		name  string
		data  string
		field string
	}{
		{
			name:  "missing anchor",
			data:  strings.Replace(base, "anchor: profiles", "anchor: people", 1),
			field: "nav",
		},
		{
			name:  "bad doi",
			data:  strings.Replace(base, "doi: 10.1016/j.trc.2024.104511", "doi: not-a-doi", 1),
			field: "publications.items[1].doi",
		},
		{
			name:  "absolute logo",
			data:  strings.Replace(base, "logo: logos/ns.jpg", "logo: /etc/passwd", 1),
			field: "collaborations.items[3].logo",
		},
		{
			name:  "traversal headshot",
			data:  strings.Replace(base, "headshot: cesare.jpg", "headshot: ../cesare.jpg", 1),
			field: "profiles.items[0].headshot",
		},
		{
			name:  "empty brand",
			data:  strings.Replace(base, "brand: Seismic", "brand: \"\"", 1),
			field: "brand",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseContent([]byte(tc.data))
			require.Error(t, err)
			assert.True(t, errors.IsValidationError(err))
			assert.Contains(t, errors.InvalidFields(err), tc.field)
		})
	}
}

func TestParseContentUnknownKey(t *testing.T) {
	_, err := ParseContent([]byte("brand: Seismic\nbanner: nope\n"))
	assert.Error(t, err)
}

func TestLoadContentMissingFile(t *testing.T) {
	_, err := LoadContent(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeConfig, errors.TypeOf(err))
}

func TestPageRendersAllSections(t *testing.T) {
	c := mustDefault(t)
	_, doc := renderPage(t, c, PageView{
		Nonce: "abc123",
		Now:   time.Date(2030, 3, 1, 12, 0, 0, 0, time.UTC),
	})

	for _, id := range []string{"top", "projects", "collaborations", "publications", "profiles", "contact"} {
		assert.Len(t, findAll(doc, byID(id)), 1, "section %s", id)
	}

	links := findAll(doc, byTag("a"))
	var hrefs []string
	for _, a := range links {
		hrefs = append(hrefs, attr(a, "href"))
	}
	assert.Contains(t, hrefs, "#top")
	assert.Contains(t, hrefs, "#contact")
	assert.Contains(t, hrefs, "https://doi.org/10.1016/j.trc.2024.104511")

	h1 := findAll(doc, byTag("h1"))
	require.Len(t, h1, 1)
	assert.Equal(t, "Deep Research and Consulting", textOf(h1[0]))

	cards := findAll(doc, func(n *html.Node) bool { return attr(n, "class") == "card" })
	assert.Len(t, cards, 4)

	var alts []string
	for _, img := range findAll(doc, byTag("img")) {
		alts = append(alts, attr(img, "alt"))
	}
	assert.Contains(t, alts, "NS Logo")
	assert.Contains(t, alts, "Headshot of Marcin Korecki")

	citations := findAll(doc, func(n *html.Node) bool { return attr(n, "class") == "citation" })
	require.Len(t, citations, 4)
	assert.Contains(t, textOf(citations[0]), "Korecki, Marcin, and Dirk Helbing (2022).")
	assert.Contains(t, textOf(citations[0]), "96348-96358")

	footer := findAll(doc, byTag("footer"))
	require.Len(t, footer, 1)
	assert.Contains(t, textOf(footer[0]), "© 2030 Seismic BV. All rights reserved.")
	assert.Contains(t, textOf(footer[0]), "Advance with focus and clarity.")
}

func TestContactSectionEmpty(t *testing.T) {
	c := mustDefault(t)
	_, doc := renderPage(t, c, PageView{Nonce: "n0nce"})

	section := findAll(doc, byID("contact"))[0]
	assert.Equal(t, "5000", attr(section, "data-clear-after"))
	assert.Empty(t, findAll(section, func(n *html.Node) bool { return attr(n, "role") == "alert" }))

	textarea := findAll(section, byTag("textarea"))
	require.Len(t, textarea, 1)
	assert.Equal(t, "5", attr(textarea[0], "rows"))

	button := findAll(section, byTag("button"))
	require.Len(t, button, 1)
	assert.Equal(t, "Send Message", textOf(button[0]))

	var labels []string
	for _, l := range findAll(section, byTag("label")) {
		labels = append(labels, textOf(l))
	}
	assert.Equal(t, []string{"Name", "Email", "Message"}, labels)

	scripts := findAll(section, byTag("script"))
	require.Len(t, scripts, 1)
	assert.Equal(t, "n0nce", attr(scripts[0], "nonce"))
}

func TestContactSectionBanner(t *testing.T) {
	c := mustDefault(t)

	t.Run("success", func(t *testing.T) {
		_, doc := renderPage(t, c, PageView{Contact: ContactView{
			Status:       contact.StatusSuccess,
			SubmissionID: "1b4e28ba-2fa1-11d2-883f-0016d3cca427",
			ClearAfter:   1500 * time.Millisecond,
		}})

		section := findAll(doc, byID("contact"))[0]
		assert.Equal(t, "1500", attr(section, "data-clear-after"))

		banners := findAll(section, func(n *html.Node) bool { return attr(n, "role") == "alert" })
		require.Len(t, banners, 1)
		assert.Equal(t, contact.SuccessMessage, textOf(banners[0]))
		assert.Equal(t, "banner banner-success", attr(banners[0], "class"))
		assert.Equal(t, "1b4e28ba-2fa1-11d2-883f-0016d3cca427", attr(banners[0], "data-submission"))
	})

	t.Run("error keeps values", func(t *testing.T) {
		_, doc := renderPage(t, c, PageView{Contact: ContactView{
			Form:          contact.Form{Name: "Ada", Message: "Hello"},
			Status:        contact.StatusError,
			InvalidFields: []string{contact.FieldEmail},
		}})

		section := findAll(doc, byID("contact"))[0]
		banners := findAll(section, func(n *html.Node) bool { return attr(n, "role") == "alert" })
		require.Len(t, banners, 1)
		assert.Equal(t, contact.ErrorMessage, textOf(banners[0]))
		assert.False(t, hasAttr(banners[0], "data-submission"))

		name := findAll(section, byID("contact-name"))[0]
		email := findAll(section, byID("contact-email"))[0]
		assert.Equal(t, "Ada", attr(name, "value"))
		assert.False(t, hasAttr(name, "aria-invalid"))
		assert.Equal(t, "true", attr(email, "aria-invalid"))

		textarea := findAll(section, byTag("textarea"))[0]
		assert.Equal(t, "Hello", textOf(textarea))
	})
}

func TestContactSectionEscapesInput(t *testing.T) {
	c := mustDefault(t)
	hostile := `"><script>alert(1)</script>`

	raw, doc := renderPage(t, c, PageView{Contact: ContactView{
		Form:   contact.Form{Name: hostile, Message: "</textarea><b>x</b>"},
		Status: contact.StatusError,
	}})

	assert.NotContains(t, raw, "<script>alert(1)")
	assert.NotContains(t, raw, "</textarea><b>")

	name := findAll(doc, byID("contact-name"))[0]
	assert.Equal(t, hostile, attr(name, "value"))
	assert.Empty(t, findAll(doc, byTag("b")))
}

func TestComponentsRenderIndependently(t *testing.T) {
	c := mustDefault(t)

	var buf bytes.Buffer
	require.NoError(t, Footer(c, time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)).Render(context.Background(), &buf))
	assert.Contains(t, buf.String(), "1999 Seismic BV")

	buf.Reset()
	require.NoError(t, Projects(c).Render(context.Background(), &buf))
	assert.Contains(t, buf.String(), "Gamification and Incentive Design")
	assert.NotContains(t, buf.String(), "<html")
}

type recordingReloads struct {
	mu      sync.Mutex
	results []bool
}

func (r *recordingReloads) ContentReloaded(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, ok)
}

func (r *recordingReloads) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.results...)
}

func writeContent(t *testing.T, path, brand string) {
	t.Helper()
	valid, err := os.ReadFile("content.yaml")
	require.NoError(t, err)
	data := strings.Replace(string(valid), "brand: Seismic", "brand: "+brand, 1)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func TestStoreEmbedded(t *testing.T) {
	s, err := NewStore("")
	require.NoError(t, err)
	assert.Equal(t, "Seismic", s.Content().Brand)
	assert.Empty(t, s.Path())
	assert.NoError(t, s.Watch(context.Background(), 0))
	assert.NoError(t, s.Close())
}

func TestStoreReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content.yaml")
	writeContent(t, path, "First")

	rec := &recordingReloads{}
	s, err := NewStore(path, WithReloadRecorder(rec))
	require.NoError(t, err)
	assert.Equal(t, "First", s.Content().Brand)

	require.NoError(t, os.WriteFile(path, []byte("brand: [unterminated"), 0o644))
	assert.Error(t, s.Reload(context.Background()))
	assert.Equal(t, "First", s.Content().Brand)

	writeContent(t, path, "Second")
	require.NoError(t, s.Reload(context.Background()))
	assert.Equal(t, "Second", s.Content().Brand)

	assert.Equal(t, []bool{false, true}, rec.snapshot())
}

func TestNewStoreInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content.yaml")
	require.NoError(t, os.WriteFile(path, []byte("brand: Seismic\n"), 0o644))

	_, err := NewStore(path)
	assert.Error(t, err)
}

func TestStoreWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content.yaml")
	writeContent(t, path, "Before")

	s, err := NewStore(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Watch(ctx, 20*time.Millisecond))
	defer s.Close()

	writeContent(t, path, "After")

	assert.Eventually(t, func() bool {
		return s.Content().Brand == "After"
	}, 3*time.Second, 20*time.Millisecond)
}
