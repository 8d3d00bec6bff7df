package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/modelstudio/internal/models"
	"github.com/digkill/modelstudio/internal/wizard"
)

type imageView struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int    `json:"size"`
}

type sessionView struct {
	Step        wizard.Step    `json:"step"`
	Images      []imageView    `json:"images"`
	Prompt      string         `json:"prompt"`
	PresetID    string         `json:"presetId,omitempty"`
	LastError   string         `json:"lastError,omitempty"`
	Paywall     bool           `json:"paywall"`
	CanGenerate bool           `json:"canGenerate"`
	Result      *wizard.Result `json:"result"`
	Credits     int            `json:"credits"`
}

func (s *Server) view(r *http.Request, state wizard.State) sessionView {
	images := state.Images()
	views := make([]imageView, len(images))
	for i, img := range images {
		views[i] = imageView{Index: i, Name: img.Name, MimeType: img.MimeType, Size: len(img.Data)}
	}
	v := sessionView{
		Step:        state.Step(),
		Images:      views,
		Prompt:      state.Prompt(),
		PresetID:    state.PresetID(),
		LastError:   state.LastError(),
		Paywall:     state.PaywallShown(),
		CanGenerate: state.CanGenerate(),
		Credits:     s.accounts.Ledger(profileFrom(r.Context())).Balance(r.Context()),
	}
	if result, ok := state.Result(); ok {
		v.Result = &result
	}
	return v
}

// respond writes the wizard state, with the error message and mapped status
// when the transition failed.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, state wizard.State, err error) {
	view := s.view(r, state)
	if err == nil {
		s.writeJSON(w, http.StatusOK, view)
		return
	}
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("session handler error", "err", err, "profile", profileFrom(r.Context()))
	}
	msg := err.Error()
	if view.LastError != "" && (errors.Is(err, wizard.ErrValidation) || errors.Is(err, wizard.ErrGenerationFailed)) {
		msg = view.LastError
	}
	s.writeJSON(w, status, map[string]any{
		"error":   msg,
		"session": view,
	})
}

func (s *Server) controller(r *http.Request) *wizard.Controller {
	return s.sessions.Get(r.Context(), profileFrom(r.Context()))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.controller(r).State(), nil)
}

// handleUploadImages replaces the uploaded set with the multipart "images"
// files, or appends to it with ?mode=append.
func (s *Server) handleUploadImages(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		s.badRequest(w, fmt.Errorf("invalid upload: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	images, err := readImages(r.MultipartForm.File["images"])
	if err != nil {
		s.badRequest(w, err)
		return
	}

	controller := s.controller(r)
	var state wizard.State
	if r.URL.Query().Get("mode") == "append" {
		state, err = controller.AddImages(images)
	} else {
		state, err = controller.Upload(images)
	}
	s.respond(w, r, state, err)
}

func readImages(files []*multipart.FileHeader) ([]models.UploadedImage, error) {
	images := make([]models.UploadedImage, 0, len(files))
	for _, fh := range files {
		if len(images) == models.MaxUploadedImages {
			break
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		mime := normalizeImageContentType(fh.Header.Get("Content-Type"), fh.Filename, data)
		if !strings.HasPrefix(mime, "image/") {
			return nil, fmt.Errorf("%s is not an image", fh.Filename)
		}
		images = append(images, models.UploadedImage{Name: fh.Filename, Data: data, MimeType: mime})
	}
	return images, nil
}

func normalizeImageContentType(contentType, filename string, data []byte) string {
	contentType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if strings.HasPrefix(contentType, "image/") {
		if contentType == "image/jpg" {
			return "image/jpeg"
		}
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	}
	return http.DetectContentType(data)
}

func (s *Server) handleClearImages(w http.ResponseWriter, r *http.Request) {
	state, err := s.controller(r).ClearImages()
	s.respond(w, r, state, err)
}

func (s *Server) handleRemoveImage(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.badRequest(w, fmt.Errorf("invalid index"))
		return
	}
	state, err := s.controller(r).RemoveImage(index)
	if errors.Is(err, wizard.ErrInvalidTransition) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respond(w, r, state, err)
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleSetPrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	state, err := s.controller(r).SetPrompt(req.Prompt)
	s.respond(w, r, state, err)
}

type presetRequest struct {
	PresetID string `json:"presetId"`
}

func (s *Server) handleSelectPreset(w http.ResponseWriter, r *http.Request) {
	var req presetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	state, err := s.controller(r).SelectPreset(req.PresetID)
	s.respond(w, r, state, err)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	state, err := s.controller(r).Generate(r.Context())
	s.respond(w, r, state, err)
}

// handleReset discards the whole wizard, uploads included.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Reset(profileFrom(r.Context())); err != nil {
		s.respond(w, r, s.controller(r).State(), err)
		return
	}
	s.respond(w, r, s.controller(r).State(), nil)
}

// handleStartOver leaves the result step but keeps the photos and prompt.
func (s *Server) handleStartOver(w http.ResponseWriter, r *http.Request) {
	state, err := s.controller(r).StartOver()
	s.respond(w, r, state, err)
}

func (s *Server) handleDismissPaywall(w http.ResponseWriter, r *http.Request) {
	state, err := s.controller(r).DismissPaywall()
	s.respond(w, r, state, err)
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, wizard.Presets())
}
