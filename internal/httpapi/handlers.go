package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/cmsauth"
	"github.com/MrEthical07/cmsauth/keys"
	"github.com/MrEthical07/cmsauth/middleware"
	"github.com/MrEthical07/cmsauth/role"
)

func (a *api) register(w http.ResponseWriter, r *http.Request) {
	var req cmsauth.Registration
	if !decode(w, r, &req) {
		return
	}
	resp, err := a.svc.Register(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.setRefreshCookie(w, resp.Tokens.RefreshToken)
	writeJSON(w, http.StatusCreated, resp)
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var req cmsauth.Credentials
	if !decode(w, r, &req) {
		return
	}
	resp, err := a.svc.Login(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.setRefreshCookie(w, resp.Tokens.RefreshToken)
	writeJSON(w, http.StatusOK, resp)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// refresh takes the token from the JSON body, falling back to the cookie set
// at login.
func (a *api) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if !decode(w, r, &req) {
			return
		}
	}
	if req.RefreshToken == "" {
		if c, err := r.Cookie(refreshCookie); err == nil {
			req.RefreshToken = c.Value
		}
	}
	if req.RefreshToken == "" {
		middleware.Unauthorized(w)
		return
	}

	resp, err := a.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.setRefreshCookie(w, resp.Tokens.RefreshToken)
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if err := a.svc.Logout(r.Context(), claims.Subject); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	Subject     string    `json:"subject"`
	Role        role.Role `json:"role"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (a *api) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, meResponse{
		Subject:     claims.Subject,
		Role:        claims.Role,
		Permissions: claims.Role.Permissions().Names(),
		ExpiresAt:   claims.ExpiresAt,
	})
}

type attenuateRequest struct {
	Role role.Role `json:"role"`
}

func (a *api) attenuate(w http.ResponseWriter, r *http.Request) {
	var req attenuateRequest
	if !decode(w, r, &req) {
		return
	}
	tok, _ := middleware.BearerToken(r)
	issued, err := a.svc.Attenuate(r.Context(), tok, req.Role)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issued)
}

type createAPIKeyRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	TTLSecs     int64    `json:"ttl_secs"`
}

type createAPIKeyResponse struct {
	ID        string     `json:"id"`
	Key       string     `json:"key"`
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (a *api) createAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TTLSecs < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "ttl_secs must not be negative"})
		return
	}
	claims, _ := middleware.ClaimsFromContext(r.Context())
	raw, key, err := a.svc.CreateAPIKey(r.Context(), cmsauth.NewAPIKey{
		UserID:      claims.Subject,
		Name:        req.Name,
		Permissions: req.Permissions,
		TTL:         time.Duration(req.TTLSecs) * time.Second,
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	resp := createAPIKeyResponse{ID: key.ID, Key: raw, Name: key.Name}
	if !key.ExpiresAt.IsZero() {
		resp.ExpiresAt = &key.ExpiresAt
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *api) whoami(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.APIKeyPrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, p)
}

type rotateResponse struct {
	Version     uint32 `json:"version"`
	Fingerprint string `json:"fingerprint"`
}

func (a *api) rotateKeys(w http.ResponseWriter, r *http.Request) {
	kp, err := a.svc.RotateKeys(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rotateResponse{Version: kp.Version, Fingerprint: keys.Fingerprint(kp.PublicKey)})
}

func (a *api) pruneKeys(w http.ResponseWriter, r *http.Request) {
	pruned, err := a.svc.PruneKeys(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if pruned == nil {
		pruned = []uint32{}
	}
	writeJSON(w, http.StatusOK, map[string][]uint32{"pruned": pruned})
}

func (a *api) securityReport(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.SecurityReport())
}

func (a *api) setRefreshCookie(w http.ResponseWriter, t cmsauth.IssuedToken) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    t.Token,
		Path:     "/auth",
		Expires:  t.ExpiresAt,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *api) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteStrictMode,
	})
}
