package api

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/orangebricks/autodash/internal/audit"
	"github.com/orangebricks/autodash/internal/framework"
	"github.com/orangebricks/autodash/internal/keychain"
	"github.com/orangebricks/autodash/internal/modelinfo"
	"github.com/orangebricks/autodash/internal/notebook"
	"github.com/orangebricks/autodash/internal/requestid"
	"github.com/orangebricks/autodash/internal/translate"
)

// translateTimeout bounds a single model call.
const translateTimeout = 2 * time.Minute

// translate reads a notebook, has the model rewrite it as a dashboard,
// writes the result next to the notebook and starts it.
func (s *Server) translate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := requestid.From(ctx)

	req, err := decodeFile(r, true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	kind, err := framework.Parse(req.Type)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	code, err := notebook.ReadCode(req.File)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var lookup func() (string, error)
	if s.secrets != nil {
		lookup = func() (string, error) {
			return s.secrets.GetForRequest(keychain.OpenAIKey, reqID)
		}
	}
	key, err := translate.ResolveKey(s.model.APIKey, lookup, modelinfo.IsLocal(s.model.Model, s.model.APIURL))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			s.fail(w, r, fmt.Errorf("waiting for translation slot: %w", err))
			return
		}
	}

	tr, err := s.newTranslator(translate.Config{
		Model:   s.model.Model,
		BaseURL: s.model.APIURL,
		APIKey:  key,
		Timeout: translateTimeout,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out, err := tr.Translate(ctx, code, kind)
	if err != nil {
		s.record(req.File, kind, reqID, err)
		s.fail(w, r, err)
		return
	}

	outPath := translate.OutputPath(req.File, kind)
	if err := os.WriteFile(outPath, []byte(out), 0644); err != nil {
		s.fail(w, r, fmt.Errorf("writing %s: %w", outPath, err))
		return
	}
	s.record(outPath, kind, reqID, nil)

	d, err := s.registry.Start(ctx, outPath, string(kind))
	if err != nil {
		s.fail(w, r, fmt.Errorf("starting %s: %w", outPath, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": d.ProxyURL(), "file": outPath})
}

func (s *Server) record(path string, kind framework.Kind, reqID string, err error) {
	e := audit.Entry{
		Action:    audit.ActionTranslate,
		Path:      path,
		Kind:      string(kind),
		Actor:     "api",
		Trigger:   "request",
		RequestID: reqID,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if logErr := s.audit.Log(e); logErr != nil {
		s.logger.Warn("audit log write failed", "error", logErr)
	}
}
