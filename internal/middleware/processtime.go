package middleware

import (
	"net/http"
	"strconv"
	"time"
)

// ProcessTimeHeader is the response header carrying handler latency in
// seconds.
const ProcessTimeHeader = "X-Process-Time"

// ProcessTime stamps every response with the time spent producing it.
func ProcessTime(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &timedWriter{ResponseWriter: w, start: time.Now()}
		next.ServeHTTP(tw, r)
		if !tw.wroteHeader {
			tw.stamp()
		}
	})
}

type timedWriter struct {
	http.ResponseWriter
	start       time.Time
	wroteHeader bool
}

func (tw *timedWriter) stamp() {
	elapsed := time.Since(tw.start).Seconds()
	tw.Header().Set(ProcessTimeHeader, strconv.FormatFloat(elapsed, 'f', 6, 64))
	tw.wroteHeader = true
}

func (tw *timedWriter) WriteHeader(code int) {
	if !tw.wroteHeader {
		tw.stamp()
	}
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timedWriter) Write(b []byte) (int, error) {
	if !tw.wroteHeader {
		tw.stamp()
	}
	return tw.ResponseWriter.Write(b)
}
