package httpserver

import (
	"net/http"
	"time"
	"unsafe"

	gin "github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/modern-go/reflect2"
)

// timeRFC3339Encoder writes time.Time as RFC3339 in UTC with millisecond
// precision so activity ordering survives the round trip.
type timeRFC3339Encoder struct{}

const wireTime = "2006-01-02T15:04:05.000Z07:00"

func (e *timeRFC3339Encoder) IsEmpty(ptr unsafe.Pointer) bool {
	return (*time.Time)(ptr).IsZero()
}

func (e *timeRFC3339Encoder) Encode(ptr unsafe.Pointer, stream *jsoniter.Stream) {
	t := *((*time.Time)(ptr))
	stream.WriteString(t.UTC().Format(wireTime))
}

type timeExt struct{ jsoniter.DummyExtension }

func (e *timeExt) CreateEncoder(typ reflect2.Type) jsoniter.ValEncoder {
	if typ == reflect2.TypeOfPtr((*time.Time)(nil)).Elem() {
		return &timeRFC3339Encoder{}
	}
	return nil
}

var jsonAPI = func() jsoniter.API {
	api := jsoniter.Config{
		EscapeHTML:             true,
		SortMapKeys:            true,
		ValidateJsonRawMessage: true,
	}.Froze()
	api.RegisterExtension(&timeExt{})
	return api
}()

// JSONRFC renders JSON using json-iterator with our global options.
type JSONRFC struct{ Data any }

func (r JSONRFC) Render(w http.ResponseWriter) error {
	r.WriteContentType(w)
	return jsonAPI.NewEncoder(w).Encode(r.Data)
}

func (r JSONRFC) WriteContentType(w http.ResponseWriter) {
	header := w.Header()
	if val := header["Content-Type"]; len(val) == 0 {
		header["Content-Type"] = []string{"application/json; charset=utf-8"}
	}
}

// JSON is the unified JSON responder; use it instead of c.JSON.
func (s *Server) JSON(c *gin.Context, code int, v any) {
	c.Render(code, JSONRFC{Data: v})
}

// marshal encodes v the same way JSON does, for SSE and websocket frames.
func marshal(v any) ([]byte, error) { return jsonAPI.Marshal(v) }
