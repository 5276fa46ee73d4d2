package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/contentsquare/webfetch/engine"
	"github.com/contentsquare/webfetch/log"
	"github.com/contentsquare/webfetch/processor"
)

// Built-in processor ids
const (
	rawProcessorID  = 1
	headProcessorID = 2
	jsonProcessorID = 3
)

var processorNames = map[string]int{
	"raw":  rawProcessorID,
	"head": headProcessorID,
	"json": jsonProcessorID,
}

func registerBuiltinProcessors(e *engine.Engine) error {
	for _, p := range []processor.Processor{
		processor.NewRawProcessor(rawProcessorID),
		processor.NewHeadProcessor(headProcessorID),
		processor.NewJSONProcessor[any](jsonProcessorID, processor.Identity[any]),
	} {
		if err := e.RegisterProcessor(p); err != nil {
			return err
		}
	}
	return nil
}

// processorID resolves a processor by name or numeric id. An empty name
// selects the raw processor.
func processorID(name string) (int, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if len(name) == 0 {
		return rawProcessorID, nil
	}
	if id, ok := processorNames[name]; ok {
		return id, nil
	}
	id, err := strconv.Atoi(name)
	if err != nil {
		return 0, fmt.Errorf("unknown processor %q", name)
	}
	return id, nil
}

func respondWith(rw http.ResponseWriter, err error, status int) {
	log.Debugf("responding with %d: %s", status, err)
	writeJSON(rw, status, fetchResponse{
		Status: processor.StatusError.String(),
		Error:  err.Error(),
	})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		log.Errorf("cannot write response: %s", err)
	}
}

// jsonPayload makes text bodies readable in responses. Other byte slices
// are base64 encoded by encoding/json.
func jsonPayload(v any) any {
	if b, ok := v.([]byte); ok && utf8.Valid(b) {
		return string(b)
	}
	return v
}
