package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"io/fs"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/seismic-bv/seismic/internal/contact"
	"github.com/seismic-bv/seismic/internal/errors"
	"github.com/seismic-bv/seismic/internal/site"
	"github.com/seismic-bv/seismic/internal/validation"
)

// maxFormBytes bounds a contact request body. It stays well above the
// relay payload limit, which is applied during dispatch.
const maxFormBytes = 1 << 20

var staticExtensions = []string{".css", ".js", ".png", ".jpg", ".jpeg", ".svg", ".webp", ".ico", ".woff2"}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, http.StatusOK, site.ContactView{})
}

// handleContactForm serves the no-script form post and answers with the
// page, banner included.
func (s *Server) handleContactForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	values := map[string]string{
		contact.FieldName:    r.PostForm.Get(contact.FieldName),
		contact.FieldEmail:   r.PostForm.Get(contact.FieldEmail),
		contact.FieldMessage: r.PostForm.Get(contact.FieldMessage),
	}

	view, attempt, err := s.submit(r.Context(), values)
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	if attempt != nil {
		view.SubmissionID = attempt.ID
	}
	s.renderPage(w, r, status, view)
}

// contactRequest is the JSON body of POST /api/contact.
type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

type contactResponse struct {
	ID      string        `json:"id,omitempty"`
	Status  string        `json:"status"`
	Message string        `json:"message"`
	Fields  []string      `json:"fields,omitempty"`
	Result  *StatusUpdate `json:"result,omitempty"`
}

// handleContactAPI accepts JSON submissions. With ?wait=true it answers
// after the dispatch with the delivery report.
func (s *Server) handleContactAPI(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFormBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !stderrors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, contactResponse{Status: "error", Message: "invalid JSON body"})
		return
	}

	view, attempt, err := s.submit(r.Context(), map[string]string{
		contact.FieldName:    req.Name,
		contact.FieldEmail:   req.Email,
		contact.FieldMessage: req.Message,
	})
	if err != nil {
		writeJSON(w, statusFor(err), contactResponse{
			Status:  view.Status.String(),
			Message: view.Status.Message(),
			Fields:  errors.InvalidFields(err),
		})
		return
	}

	resp := contactResponse{ID: attempt.ID, Status: view.Status.String(), Message: view.Status.Message()}
	if r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	update, werr := s.hub.Wait(r.Context(), attempt.ID)
	if werr != nil {
		// the client went away; the dispatch continues
		return
	}
	resp.Result = &update
	code := http.StatusOK
	if !update.Delivered {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, resp)
}

// submit runs one contact section for the request. Nothing is shared
// between requests.
func (s *Server) submit(ctx context.Context, values map[string]string) (site.ContactView, *contact.Attempt, error) {
	section := contact.NewSection(s.dispatcher, contact.SectionOptions{
		ClearAfter: s.cfg.Contact.StatusClearDelay,
		Logger:     s.logger,
	})
	defer section.Close()

	for _, field := range []string{contact.FieldName, contact.FieldEmail, contact.FieldMessage} {
		if err := section.SetField(field, values[field]); err != nil {
			return site.ContactView{}, nil, err
		}
	}

	attempt, err := section.Submit(ctx)
	state := section.Snapshot()
	view := site.ContactView{
		Form:       state.Form,
		Status:     state.Status,
		ClearAfter: s.cfg.Contact.StatusClearDelay,
	}

	if err != nil {
		s.recordSubmission("invalid")
		view.InvalidFields = errors.InvalidFields(err)
		return view, nil, err
	}

	s.recordSubmission("accepted")
	s.hub.Track(attempt)
	// the dispatch owns the values now; the page starts over
	view.Form = contact.Form{}
	return view, attempt, nil
}

func (s *Server) recordSubmission(result string) {
	if s.metrics != nil {
		s.metrics.ContactSubmitted(result)
	}
}

// handleStatus streams the delivery report of one submission.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" || !s.hub.Known(id) {
		http.Error(w, "Unknown submission", http.StatusNotFound)
		return
	}
	if !s.origins.Allowed(r) {
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins.Patterns(),
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "WebSocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	s.recordSocket("opened")
	defer s.recordSocket("closed")

	// no client messages are expected; a close frame ends the wait
	ctx := conn.CloseRead(r.Context())
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Contact.PublishTimeout+s.cfg.Server.ShutdownTimeout)
	defer cancel()

	update, err := s.hub.Wait(ctx, id)
	if err != nil {
		conn.Close(websocket.StatusGoingAway, "no result")
		return
	}

	if err := wsjson.Write(ctx, conn, update); err != nil {
		s.logger.Debug(r.Context(), "Status write failed", "error", err.Error())
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) recordSocket(action string) {
	if s.metrics != nil {
		s.metrics.WebSocketConnection(action)
	}
}

// handleStatic serves assets with an extension allowlist and no
// directory listings.
func (s *Server) handleStatic(fsys fs.FS) http.Handler {
	files := http.StripPrefix("/static/", http.FileServerFS(fsys))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/static/")
		if name == "" || strings.HasSuffix(name, "/") || validation.ValidateFileExtension(name, staticExtensions) != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=3600")
		files.ServeHTTP(w, r)
	})
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, status int, view site.ContactView) {
	page := site.Page(s.store.Content(), site.PageView{
		Contact:    view,
		Nonce:      GetNonceFromContext(r.Context()),
		Now:        s.now(),
		StatusPath: site.DefaultStatusPath,
	})

	var buf strings.Builder
	if err := page.Render(r.Context(), &buf); err != nil {
		s.errHandler.Handle(r.Context(), errors.NewInternalError(errors.ErrCodeInternalError, "rendering page", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, buf.String())
}

// statusFor maps a submission error onto an HTTP status.
func statusFor(err error) int {
	switch errors.TypeOf(err) {
	case errors.ErrorTypeValidation:
		return http.StatusUnprocessableEntity
	case errors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrorTypeTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
