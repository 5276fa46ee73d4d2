package processor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/contentsquare/webfetch/cache"
	"github.com/contentsquare/webfetch/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const weatherProcessorID = 10

type weather struct {
	Temperature int
}

func parseWeather(n *Node) (weather, error) {
	t, err := strconv.Atoi(n.Text)
	if err != nil {
		return weather{}, fmt.Errorf("bad temperature %q: %w", n.Text, err)
	}
	return weather{Temperature: t}, nil
}

func newWeatherProcessor(opts ...Option) *DataProcessor[*Node, weather] {
	return NewXMLProcessor[weather](weatherProcessorID, parseWeather, opts...)
}

func testRequest(t *testing.T) *web.Request {
	req, err := web.NewRequest("http://x/weather", weatherProcessorID)
	require.NoError(t, err)
	req.CacheTTL = web.OneHour
	return req
}

func okAdapter(req *web.Request, body string) *web.ReplyAdapter {
	return web.NewOKAdapter(req, &web.Reply{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/xml"}},
		Body:       []byte(body),
		BytesRead:  int64(len(body)),
	})
}

func receive(t *testing.T, mb *Mailbox) Message {
	t.Helper()
	select {
	case m := <-mb.C():
		return m
	case <-time.After(time.Second):
		t.Fatalf("timeout while waiting for a message")
	}
	return Message{}
}

func TestProcessWebReply(t *testing.T) {
	p := newWeatherProcessor()
	req := testRequest(t)
	mb := NewChannel(1)

	p.ProcessWebReply(okAdapter(req, "<t>20</t>"), mb)

	m := receive(t, mb)
	if m.Status != StatusOK {
		t.Fatalf("unexpected status %s; expecting %s: %v", m.Status, StatusOK, m.Err)
	}
	assert.Equal(t, weatherProcessorID, m.ProcessorID)
	assert.Equal(t, weather{Temperature: 20}, m.Payload)
	assert.Same(t, req, m.Request)
}

func TestProcessCachedObject(t *testing.T) {
	p := newWeatherProcessor()
	req := testRequest(t)
	mb := NewChannel(1)

	p.ProcessCachedObject(&cache.Object{Data: []byte("<t>\n  21\n</t>")}, mb, req)

	m := receive(t, mb)
	require.True(t, m.OK(), "unexpected error: %v", m.Err)
	assert.Equal(t, weather{Temperature: 21}, m.Payload)
}

func TestDecodeErrorOnBothPaths(t *testing.T) {
	p := newWeatherProcessor()
	req := testRequest(t)
	mb := NewChannel(2)

	p.ProcessWebReply(okAdapter(req, "<t>20"), mb)
	p.ProcessCachedObject(&cache.Object{Data: []byte("not xml at all <")}, mb, req)

	for i := 0; i < 2; i++ {
		m := receive(t, mb)
		if m.Status != StatusError {
			t.Fatalf("unexpected status %s; expecting %s", m.Status, StatusError)
		}
		assert.Equal(t, weatherProcessorID, m.ProcessorID)
		assert.Nil(t, m.Payload)

		var dErr *DecodeError
		if !errors.As(m.Err, &dErr) {
			t.Fatalf("unexpected error %v; expecting *DecodeError", m.Err)
		}
		assert.Equal(t, weatherProcessorID, dErr.ProcessorID)
	}
}

func TestParseError(t *testing.T) {
	p := newWeatherProcessor()
	req := testRequest(t)

	_, err := p.ObtainDataObjectFromWebReply(okAdapter(req, "<t>warm</t>"))
	var pErr *ParseError
	if !errors.As(err, &pErr) {
		t.Fatalf("unexpected error %v; expecting *ParseError", err)
	}
}

func TestPanicsBecomeErrors(t *testing.T) {
	boom := New[[]byte, int](7,
		func(src Source) ([]byte, error) { return src.Body, nil },
		func(b []byte) (int, error) { return int(b[100]), nil },
	)
	mb := NewChannel(1)
	boom.ProcessCachedObject(&cache.Object{Data: []byte("short")}, mb, nil)

	m := receive(t, mb)
	assert.Equal(t, StatusError, m.Status)
	assert.Equal(t, 7, m.ProcessorID)
	var pErr *ParseError
	assert.ErrorAs(t, m.Err, &pErr)

	decodePanic := New[int, int](8,
		func(Source) (int, error) { panic("decoder bug") },
		Identity[int],
	)
	_, err := decodePanic.ObtainDataObjectFromCachedObject(&cache.Object{})
	var dErr *DecodeError
	assert.ErrorAs(t, err, &dErr)
	assert.Contains(t, err.Error(), "decoder bug")
}

func TestFailedReply(t *testing.T) {
	p := newWeatherProcessor()
	req := testRequest(t)
	fetchErr := errors.New("connection refused")
	mb := NewChannel(1)

	p.ProcessWebReply(web.NewFailedAdapter(req, fetchErr), mb)

	m := receive(t, mb)
	assert.Equal(t, StatusError, m.Status)
	assert.Equal(t, weatherProcessorID, m.ProcessorID)
	assert.ErrorIs(t, m.Err, fetchErr)
	assert.Same(t, req, m.Request)

	_, err := p.ObtainDataObjectFromWebReply(web.NewFailedAdapter(req, fetchErr))
	assert.ErrorIs(t, err, fetchErr)
}

func TestObtainSync(t *testing.T) {
	p := newWeatherProcessor()
	req := testRequest(t)

	out, err := p.ObtainDataObjectFromWebReply(okAdapter(req, "<t>-3</t>"))
	require.NoError(t, err)
	assert.Equal(t, weather{Temperature: -3}, out)

	out, err = p.ObtainDataObjectFromCachedObject(&cache.Object{Data: []byte("<t>5</t>")})
	require.NoError(t, err)
	assert.Equal(t, weather{Temperature: 5}, out)

	_, err = p.ObtainDataObjectFromCachedObject(nil)
	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	p := newWeatherProcessor()
	assert.True(t, p.UsesCache())

	p = newWeatherProcessor(WithoutCache(), WithReturnMessage(func(id int, payload any, req *web.Request) Message {
		w := payload.(weather)
		return Message{
			ProcessorID: id,
			Status:      StatusOK,
			Payload:     fmt.Sprintf("%d°C", w.Temperature),
			Request:     req,
		}
	}))
	assert.False(t, p.UsesCache())

	mb := NewChannel(1)
	p.ProcessWebReply(okAdapter(testRequest(t), "<t>20</t>"), mb)
	m := receive(t, mb)
	assert.Equal(t, "20°C", m.Payload)
}

func TestRawProcessor(t *testing.T) {
	p := NewRawProcessor(1)
	out, err := p.ObtainDataObjectFromCachedObject(&cache.Object{Data: []byte{0, 1, 2}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, out)
}

func TestHeadProcessor(t *testing.T) {
	p := NewHeadProcessor(2)
	assert.False(t, p.UsesCache())

	req := testRequest(t)
	req.Method = http.MethodHead
	out, err := p.ObtainDataObjectFromWebReply(okAdapter(req, ""))
	require.NoError(t, err)

	head := out.(HeadResult)
	assert.Equal(t, http.StatusOK, head.StatusCode)
	assert.Equal(t, "text/xml", head.Header.Get("Content-Type"))

	_, err = p.ObtainDataObjectFromCachedObject(&cache.Object{})
	assert.Error(t, err)
}

func TestJSONProcessor(t *testing.T) {
	p := NewJSONProcessor[float64](3, func(v any) (float64, error) {
		m, ok := v.(map[string]any)
		if !ok {
			return 0, fmt.Errorf("unexpected document %T", v)
		}
		return m["temperature"].(json.Number).Float64()
	})

	out, err := p.ObtainDataObjectFromCachedObject(&cache.Object{Data: []byte(`{"temperature": 20.5}`)})
	require.NoError(t, err)
	assert.Equal(t, 20.5, out)

	_, err = p.ObtainDataObjectFromCachedObject(&cache.Object{Data: []byte(`{"temperature": 20.5} trailing`)})
	var dErr *DecodeError
	assert.ErrorAs(t, err, &dErr)

	// a type assertion panic in parse is reported too
	_, err = p.ObtainDataObjectFromCachedObject(&cache.Object{Data: []byte(`{"temperature": "warm"}`)})
	var pErr *ParseError
	assert.ErrorAs(t, err, &pErr)
}

func TestImageProcessor(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	p := NewImageProcessor[image.Point](4, func(img image.Image) (image.Point, error) {
		return img.Bounds().Size(), nil
	})

	out, err := p.ObtainDataObjectFromCachedObject(&cache.Object{Data: buf.Bytes()})
	require.NoError(t, err)
	assert.Equal(t, image.Pt(3, 2), out)

	_, err = p.ObtainDataObjectFromCachedObject(&cache.Object{Data: []byte("GIF89a broken")})
	var dErr *DecodeError
	assert.ErrorAs(t, err, &dErr)
}

func TestDecodeXML(t *testing.T) {
	doc := `<?xml version="1.0"?>
<current>
  <city id="2761369" name="Vienna">
    <country>AT</country>
  </city>
  <temperature value="20.3" unit="celsius"/>
  <forecast><day>mon</day><day>tue</day></forecast>
</current>`

	root, err := DecodeXML(Source{Body: []byte(doc)})
	require.NoError(t, err)
	assert.Equal(t, "current", root.Name)

	name, ok := root.Find("city").Attr("name")
	assert.True(t, ok)
	assert.Equal(t, "Vienna", name)
	assert.Equal(t, "AT", root.Find("city", "country").Text)

	v, _ := root.Find("temperature").Attr("value")
	assert.Equal(t, "20.3", v)
	assert.Len(t, root.Find("forecast").FindAll("day"), 2)
	assert.Nil(t, root.Find("city", "missing", "deeper"))

	for _, bad := range []string{"", "   ", "<a></b>", "<a/><b/>", "<a>"} {
		if _, err := DecodeXML(Source{Body: []byte(bad)}); err == nil {
			t.Fatalf("unexpected nil error for %q", bad)
		}
	}
}
