package httpapi

import (
	"net/http"
	"strings"

	svcerrors "github.com/R3E-Network/contactbook/internal/errors"
	internalhttputil "github.com/R3E-Network/contactbook/internal/httputil"
)

type message struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	internalhttputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	internalhttputil.WriteError(w, r, err)
}

func writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, detail string) {
	code := strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	internalhttputil.WriteErrorResponse(w, r, status, code, detail, nil)
}

// baseURL reconstructs the externally visible root of the API, honouring
// the usual reverse proxy headers. The result always ends in a slash.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return scheme + "://" + host + "/"
}

func unprocessable(field, msg string) error {
	return svcerrors.Validation(msg).WithDetails("field", field)
}
