package main

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// statResponseWriter collects the amount of bytes written.
//
// Additionally it caches response status code.
type statResponseWriter struct {
	http.ResponseWriter

	statusCode   int
	bytesWritten prometheus.Counter
}

func newStatResponseWriter(rw http.ResponseWriter) *statResponseWriter {
	return &statResponseWriter{
		ResponseWriter: rw,
		statusCode:     http.StatusOK,
		bytesWritten:   responseBytes,
	}
}

func (rw *statResponseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten.Add(float64(n))
	return n, err
}

func (rw *statResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// observe counts the response by its status code.
func (rw *statResponseWriter) observe() {
	statusCodes.WithLabelValues(strconv.Itoa(rw.statusCode)).Inc()
}
