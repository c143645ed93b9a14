package httpapi

import (
	"mime"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/contactbook/internal/app/services/users"
	svcerrors "github.com/R3E-Network/contactbook/internal/errors"
	internalhttputil "github.com/R3E-Network/contactbook/internal/httputil"
	"github.com/R3E-Network/contactbook/internal/middleware"
)

type signupRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email,max=150"`
	Password string `json:"password" validate:"omitempty,min=6,max=72"`
	// Hash is the legacy name of the password field.
	Hash string `json:"hash" validate:"omitempty,min=6,max=72"`
}

func (r signupRequest) password() string {
	if r.Password != "" {
		return r.Password
	}
	return r.Hash
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type requestEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *handler) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !internalhttputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := validateStruct(req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.password() == "" {
		writeError(w, r, unprocessable("password", "field required"))
		return
	}

	created, err := h.app.Users.Signup(r.Context(), users.SignupInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.password(),
	}, baseURL(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// login accepts the OAuth2 password form (username carries the email) or
// the same fields as JSON.
func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if isJSON(r) {
		if !internalhttputil.DecodeJSON(w, r, &req) {
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, r, svcerrors.Validation("invalid form body"))
			return
		}
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
	}
	if err := validateStruct(req); err != nil {
		writeError(w, r, err)
		return
	}

	pair, err := h.app.Users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *handler) refreshToken(w http.ResponseWriter, r *http.Request) {
	token, ok := internalhttputil.BearerToken(r)
	if !ok {
		writeError(w, r, svcerrors.Unauthorized("Not authenticated"))
		return
	}
	pair, err := h.app.Users.Refresh(r.Context(), token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *handler) confirmedEmail(w http.ResponseWriter, r *http.Request) {
	already, err := h.app.Users.ConfirmEmail(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if already {
		writeJSON(w, http.StatusOK, message{Message: "Your email is already confirmed"})
		return
	}
	writeJSON(w, http.StatusOK, message{Message: "Email confirmed"})
}

func (h *handler) requestEmail(w http.ResponseWriter, r *http.Request) {
	var req requestEmailRequest
	if !internalhttputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := validateStruct(req); err != nil {
		writeError(w, r, err)
		return
	}

	already, err := h.app.Users.RequestEmail(r.Context(), req.Email, baseURL(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if already {
		writeJSON(w, http.StatusOK, message{Message: "Your email is already confirmed"})
		return
	}
	writeJSON(w, http.StatusOK, message{Message: "Check your email for confirmation."})
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, svcerrors.Unauthorized("Not authenticated"))
		return
	}
	if err := h.app.Users.Logout(r.Context(), u); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func isJSON(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
