package sse

import (
	"bytes"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEncode(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	err := Encode(&buf, Event{ID: "abc", Name: "state", Data: []byte(`{"type":"state"}`)})
	assert.NoError(err)
	assert.Equal("id: abc\nevent: state\ndata: {\"type\":\"state\"}\n\n", buf.String())

	buf.Reset()
	err = Encode(&buf, Event{Name: "bad\nname", Data: []byte("one\r\ntwo")})
	assert.NoError(err)
	assert.Equal("event: bad name\ndata: one\ndata: two\n\n", buf.String())
}

func TestWriterFlushes(t *testing.T) {
	assert := assert.New(t)

	rec := httptest.NewRecorder()
	w := NewWriter(rec)

	assert.NoError(w.Retry(3 * time.Second))
	assert.NoError(w.Comment("ping"))
	assert.NoError(w.Event(Event{Name: "messages", Data: []byte("[]")}))

	assert.True(rec.Flushed)
	assert.Equal("retry: 3000\n\n: ping\n\nevent: messages\ndata: []\n\n", rec.Body.String())
}
