package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/contactbook/internal/app/domain/contact"
	svcerrors "github.com/R3E-Network/contactbook/internal/errors"
	internalhttputil "github.com/R3E-Network/contactbook/internal/httputil"
	"github.com/R3E-Network/contactbook/internal/middleware"
)

// contactRequest is the create/update body. ID and timestamps are accepted
// so a fetched contact can be sent back unchanged, but they are ignored.
type contactRequest struct {
	ID          int64        `json:"id,omitempty"`
	Name        string       `json:"name" validate:"required,max=50"`
	LastName    string       `json:"last_name" validate:"required,max=50"`
	Email       string       `json:"email" validate:"required,email,max=150"`
	PhoneNumber string       `json:"phone_number" validate:"required,max=20"`
	BirthDate   contact.Date `json:"birth_date"`
	Rest        string       `json:"rest" validate:"max=250"`
	CreatedAt   *string      `json:"created_at,omitempty"`
	UpdatedAt   *string      `json:"updated_at,omitempty"`
}

func (req contactRequest) model() contact.Contact {
	return contact.Contact{
		Name:        req.Name,
		LastName:    req.LastName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		BirthDate:   req.BirthDate,
		Rest:        req.Rest,
	}
}

func (h *handler) listContacts(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.app.Contacts.List(r.Context(), userID, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []contact.Contact{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getContact(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	id, err := contactID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.app.Contacts.Get(r.Context(), userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handler) createContact(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	req, ok := decodeContact(w, r)
	if !ok {
		return
	}
	created, err := h.app.Contacts.Create(r.Context(), userID, req.model())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) updateContact(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	id, err := contactID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, ok := decodeContact(w, r)
	if !ok {
		return
	}
	updated, err := h.app.Contacts.Update(r.Context(), userID, id, req.model())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteContact(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	id, err := contactID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.app.Contacts.Delete(r.Context(), userID, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func currentUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, svcerrors.Unauthorized("Not authenticated"))
		return 0, false
	}
	return u.ID, true
}

func decodeContact(w http.ResponseWriter, r *http.Request) (contactRequest, bool) {
	var req contactRequest
	if !internalhttputil.DecodeJSON(w, r, &req) {
		return req, false
	}
	if err := validateStruct(req); err != nil {
		writeError(w, r, err)
		return req, false
	}
	if req.BirthDate.IsZero() {
		writeError(w, r, unprocessable("birth_date", "field required"))
		return req, false
	}
	return req, true
}

func contactID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id < 1 {
		return 0, unprocessable("contact_id", "must be an integer greater than or equal to 1")
	}
	return id, nil
}

// parseFilter reads the list query string. Unset numeric parameters are
// left zero so the service applies its defaults.
func parseFilter(r *http.Request) (contact.Filter, error) {
	q := r.URL.Query()
	f := contact.Filter{
		Name:     q.Get("name"),
		LastName: q.Get("last_name"),
		Email:    q.Get("email"),
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, unprocessable("limit", "must be an integer")
		}
		if n != contact.DefaultPageSize {
			return f, unprocessable("limit", "must be equal to 10")
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, unprocessable("offset", "must be an integer")
		}
		if n < 0 {
			return f, unprocessable("offset", "must be greater than or equal to 0")
		}
		f.Offset = n
	}
	if v := q.Get("find_BD"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, unprocessable("find_BD", "must be a boolean")
		}
		f.UpcomingBirthdays = b
	}
	return f, nil
}
