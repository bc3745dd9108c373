package ledgerd

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	mcpauth "github.com/modelcontextprotocol/go-sdk/auth"

	"pkt.systems/ledgerd/internal/resource"
	"pkt.systems/ledgerd/internal/svcfields"
	"pkt.systems/ledgerd/internal/version"
)

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Current(),
	})
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return mcpauth.RequireBearerToken(s.verifier.VerifyToken, &mcpauth.RequireBearerTokenOptions{
		ResourceMetadataURL: s.cfg.ResourceMetadataURL,
	})(next)
}

// handleResource serves GET /resources/{id}. The body is the stored JSON
// payload, or the metadata record with ?view=metadata. Unknown, expired and
// foreign ids all answer 404.
func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var user string
	if info := mcpauth.TokenInfoFromContext(r.Context()); info != nil {
		user = info.UserID
	}
	if user == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing user identity"})
		return
	}
	res, err := s.resources.RetrieveOwned(r.Context(), id, user)
	if err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: resource.ErrNotFound.Error()})
			return
		}
		s.logger.Warn("http.resource.read_failed", svcfields.ResourceKey, id, svcfields.UserKey, user, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: resource.ErrStorageUnavailable.Error()})
		return
	}
	meta := res.Metadata
	h := w.Header()
	h.Set("Cache-Control", "private, no-store")
	h.Set("X-Resource-Kind", string(meta.Kind))
	h.Set("X-Resource-Expires-At", meta.ExpiresAt.UTC().Format(time.RFC3339))
	if r.URL.Query().Get("view") == "metadata" {
		writeJSON(w, http.StatusOK, meta)
		return
	}
	h.Set("Content-Type", resource.MimeType)
	h.Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// redactURL drops credentials from a DSN before it is logged.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}
