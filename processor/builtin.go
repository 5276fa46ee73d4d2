package processor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"net/http"

	// image formats understood by NewImageProcessor
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// NewRawProcessor returns a processor delivering the body as is.
func NewRawProcessor(id int, opts ...Option) *DataProcessor[[]byte, []byte] {
	return New[[]byte, []byte](id, decodeRaw, Identity[[]byte], opts...)
}

func decodeRaw(src Source) ([]byte, error) {
	return src.Body, nil
}

// HeadResult is the output of NewHeadProcessor.
type HeadResult struct {
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
}

// NewHeadProcessor returns a processor delivering the reply status and
// headers. It is meant for HEAD probes and never uses the cache, as cached
// artifacts don't keep headers.
func NewHeadProcessor(id int, opts ...Option) *DataProcessor[HeadResult, HeadResult] {
	opts = append(opts, WithoutCache())
	return New[HeadResult, HeadResult](id, decodeHead, Identity[HeadResult], opts...)
}

func decodeHead(src Source) (HeadResult, error) {
	if src.Cached {
		return HeadResult{}, fmt.Errorf("headers are not available for cached artifacts")
	}
	return HeadResult{
		StatusCode: src.StatusCode,
		Header:     src.Header,
	}, nil
}

// NewJSONProcessor returns a processor decoding the body as JSON and
// passing the generic value to parse.
func NewJSONProcessor[O any](id int, parse Parser[any, O], opts ...Option) *DataProcessor[any, O] {
	return New[any, O](id, DecodeJSON, parse, opts...)
}

// DecodeJSON decodes a JSON document into maps, slices and json.Number
// values.
func DecodeJSON(src Source) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(src.Body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after the JSON document")
	}
	return v, nil
}

// NewImageProcessor returns a processor decoding gif, jpeg or png bodies.
func NewImageProcessor[O any](id int, parse Parser[image.Image, O], opts ...Option) *DataProcessor[image.Image, O] {
	return New[image.Image, O](id, DecodeImage, parse, opts...)
}

// DecodeImage decodes a gif, jpeg or png image.
func DecodeImage(src Source) (image.Image, error) {
	img, format, err := image.Decode(bytes.NewReader(src.Body))
	if err != nil {
		return nil, err
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("empty %s image", format)
	}
	return img, nil
}
