package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/contentsquare/webfetch/engine"
	"github.com/contentsquare/webfetch/log"
	"github.com/contentsquare/webfetch/processor"
	"github.com/contentsquare/webfetch/transport"
	"github.com/contentsquare/webfetch/web"
)

type fetchResponse struct {
	ProcessorID int    `json:"processor_id"`
	Status      string `json:"status"`
	Payload     any    `json:"payload,omitempty"`
	Error       string `json:"error,omitempty"`
}

// fetchHandler serves /fetch?url=...&processor=...&ttl=... by submitting
// the request to the engine and waiting for its message.
type fetchHandler struct {
	engine *engine.Engine
}

func (h *fetchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rw := newStatResponseWriter(w)
	defer rw.observe()

	if r.Method != http.MethodGet {
		badRequest.Inc()
		respondWith(rw, fmt.Errorf("unsupported method %s", r.Method), http.StatusMethodNotAllowed)
		return
	}

	req, err := parseFetchRequest(r)
	if err != nil {
		badRequest.Inc()
		respondWith(rw, err, http.StatusBadRequest)
		return
	}

	mb := processor.NewChannel(1)
	defer mb.Close()

	if err := h.engine.SubmitAsync(req, mb); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, engine.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		respondWith(rw, err, status)
		return
	}

	select {
	case m := <-mb.C():
		fetchRequests.WithLabelValues(strconv.Itoa(m.ProcessorID), m.Status.String()).Inc()
		if !m.OK() {
			log.Debugf("fetch of %s failed: %s", req, m.Err)
			writeJSON(rw, messageStatusCode(m.Err), fetchResponse{
				ProcessorID: m.ProcessorID,
				Status:      m.Status.String(),
				Error:       m.Err.Error(),
			})
			return
		}
		writeJSON(rw, http.StatusOK, fetchResponse{
			ProcessorID: m.ProcessorID,
			Status:      m.Status.String(),
			Payload:     jsonPayload(m.Payload),
		})
	case <-r.Context().Done():
		log.Debugf("client %s went away while waiting for %s", r.RemoteAddr, req)
	}
}

func parseFetchRequest(r *http.Request) (*web.Request, error) {
	q := r.URL.Query()
	rawURL := q.Get("url")
	if len(rawURL) == 0 {
		return nil, fmt.Errorf("missing `url` parameter")
	}
	id, err := processorID(q.Get("processor"))
	if err != nil {
		return nil, err
	}

	req, err := web.NewRequest(rawURL, id)
	if err != nil {
		return nil, err
	}
	if id == headProcessorID {
		req.Method = http.MethodHead
	}
	if s := q.Get("ttl"); len(s) > 0 {
		ttl, err := web.ParseTTL(s)
		if err != nil {
			return nil, err
		}
		req.CacheTTL = ttl
	}
	return req, nil
}

// messageStatusCode maps the cause of an ERROR message to a response
// status: failures of the origin are reported as a bad gateway.
func messageStatusCode(err error) int {
	var (
		tErr *transport.Error
		dErr *processor.DecodeError
		pErr *processor.ParseError
	)
	switch {
	case errors.As(err, &tErr), errors.As(err, &dErr), errors.As(err, &pErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
