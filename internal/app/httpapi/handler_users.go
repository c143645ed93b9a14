package httpapi

import (
	"errors"
	"net/http"

	svcerrors "github.com/R3E-Network/contactbook/internal/errors"
	"github.com/R3E-Network/contactbook/internal/middleware"
)

const maxAvatarBytes = 10 << 20

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, svcerrors.Unauthorized("Not authenticated"))
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handler) updateAvatar(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, svcerrors.Unauthorized("Not authenticated"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarBytes+(1<<20))
	if err := r.ParseMultipartForm(maxAvatarBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorStatus(w, r, http.StatusRequestEntityTooLarge, "Avatar file is too large")
			return
		}
		writeError(w, r, unprocessable("file", "multipart form with a file field is required"))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, unprocessable("file", "field required"))
		return
	}
	defer file.Close()

	updated, err := h.app.Users.UpdateAvatar(r.Context(), u, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
