package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"posvision/internal/capture"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Health.Healthz(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Health.Readyz(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "username and password are required"})
		return
	}

	res, err := s.cfg.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Auth.Status(r.Context()))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Store.Snapshot())
}

func (s *Server) handleInfer(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "multipart field \"file\" is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "failed to read upload"})
		return
	}

	result, err := s.cfg.Inference.Upload(r.Context(), header.Filename, data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	result, err := s.cfg.Inference.Capture(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type sessionBody struct {
	ID        string               `json:"id"`
	StreamID  string               `json:"streamId"`
	StartedAt time.Time            `json:"startedAt"`
	Stats     capture.SessionStats `json:"stats"`
}

type streamBody struct {
	Streaming bool         `json:"streaming"`
	Session   *sessionBody `json:"session,omitempty"`
}

func newStreamBody(sess *capture.Session) streamBody {
	if sess == nil {
		return streamBody{}
	}
	body := &sessionBody{ID: sess.ID, StartedAt: sess.StartedAt, Stats: sess.Stats()}
	if sess.Stream != nil {
		body.StreamID = sess.Stream.ID()
	}
	return streamBody{Streaming: true, Session: body}
}

func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newStreamBody(s.cfg.Stream.Session()))
}

func (s *Server) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	sess, err := s.cfg.Stream.Start(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newStreamBody(sess))
}

func (s *Server) handleStreamStop(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Stream.Stop(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newStreamBody(nil))
}

type displayRequest struct {
	Width  int `json:"width" validate:"gt=0,lte=8192"`
	Height int `json:"height" validate:"gt=0,lte=8192"`
}

func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	var req displayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "width and height must be between 1 and 8192"})
		return
	}

	s.cfg.Stream.SetDisplaySize(req.Width, req.Height)
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleLiveOverlay(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.cfg.Stream.WriteLiveOverlay(&buf); err != nil {
		s.writeError(w, r, err)
		return
	}
	writePNG(w, buf.Bytes())
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	width, err := optionalInt(r, "w")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	height, err := optionalInt(r, "h")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	var buf bytes.Buffer
	if err := s.cfg.Preview.WritePNG(&buf, width, height); err != nil {
		s.writeError(w, r, err)
		return
	}
	writePNG(w, buf.Bytes())
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func optionalInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > 8192 {
		return 0, fmt.Errorf("query parameter %q must be an integer between 0 and 8192", key)
	}
	return n, nil
}
