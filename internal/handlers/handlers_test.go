package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uk.co.dudmesh.tgingest/internal/model"
)

type testServer struct {
	echo     *echo.Echo
	fetcher  *fakeFetcher
	messages *fakeMessages
	archive  *fakeArchive
}

func newTestServer(secret string) *testServer {
	s := &testServer{
		echo:     echo.New(),
		fetcher:  newFakeFetcher(),
		messages: &fakeMessages{},
		archive:  &fakeArchive{checkpoints: map[string]*model.Checkpoint{}},
	}
	Register(s.echo, Deps{
		Fetcher:        s.fetcher,
		MessageService: s.messages,
		Archive:        s.archive,
		ControlSecret:  secret,
		Shutdown:       make(chan struct{}),
	})
	return s
}

func (s *testServer) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) model.FetcherState {
	t.Helper()
	var state model.FetcherState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	return state
}

func TestControlSurface(t *testing.T) {
	t.Run("status reports the current state", func(t *testing.T) {
		assert := assert.New(t)
		s := newTestServer("")

		rec := s.do(http.MethodGet, "/fetcher/status", "")
		assert.Equal(http.StatusOK, rec.Code)
		assert.Equal(model.FetcherStatusIdle, decodeState(t, rec).Status)
	})

	t.Run("start accepts string and numeric channel ids", func(t *testing.T) {
		assert := assert.New(t)
		s := newTestServer("")

		rec := s.do(http.MethodPost, "/fetcher/start", `{"channelId":"chan1","startId":42}`)
		assert.Equal(http.StatusOK, rec.Code)
		state := decodeState(t, rec)
		assert.Equal(model.FetcherStatusRunning, state.Status)
		assert.Equal("chan1", state.ChannelID)

		rec = s.do(http.MethodPost, "/fetcher/start", `{"channelId":-1001234}`)
		assert.Equal(http.StatusOK, rec.Code)

		require.Len(t, s.fetcher.starts, 2)
		assert.Equal(model.MessageID(42), *s.fetcher.starts[0].startID)
		assert.Equal("-1001234", s.fetcher.starts[1].channelID)
		assert.Nil(s.fetcher.starts[1].startID)
	})

	t.Run("start without a channel is rejected", func(t *testing.T) {
		assert := assert.New(t)
		s := newTestServer("")

		for _, body := range []string{`{}`, `{"channelId":""}`, `{"channelId":null}`, `{"channelId":"  "}`} {
			rec := s.do(http.MethodPost, "/fetcher/start", body)
			assert.Equal(http.StatusBadRequest, rec.Code, body)
		}
		assert.Empty(s.fetcher.starts)
		assert.Equal(model.FetcherStatusIdle, s.fetcher.State().Status)
	})

	t.Run("start with malformed json is rejected", func(t *testing.T) {
		s := newTestServer("")
		rec := s.do(http.MethodPost, "/fetcher/start", `{"channelId":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("start failures from the fetcher", func(t *testing.T) {
		assert := assert.New(t)
		s := newTestServer("")

		s.fetcher.startErr = model.ErrorInvalidCursor
		assert.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/fetcher/start", `{"channelId":"c","startId":0}`).Code)

		s.fetcher.startErr = model.ErrorFetcherClosed
		assert.Equal(http.StatusServiceUnavailable, s.do(http.MethodPost, "/fetcher/start", `{"channelId":"c"}`).Code)
	})

	t.Run("stop always returns the stopped state", func(t *testing.T) {
		assert := assert.New(t)
		s := newTestServer("")

		for i := 0; i < 2; i++ {
			rec := s.do(http.MethodPost, "/fetcher/stop", "")
			assert.Equal(http.StatusOK, rec.Code)
			assert.Equal(model.FetcherStatusStopped, decodeState(t, rec).Status)
		}
	})

	t.Run("checkpoint", func(t *testing.T) {
		assert := assert.New(t)
		s := newTestServer("")
		s.archive.checkpoints["chan1"] = &model.Checkpoint{ChannelID: "chan1", LastMessageID: 9, TotalArchived: 9}

		rec := s.do(http.MethodGet, "/fetcher/checkpoints/chan1", "")
		assert.Equal(http.StatusOK, rec.Code)
		assert.Contains(rec.Body.String(), `"lastMessageId":9`)

		assert.Equal(http.StatusNotFound, s.do(http.MethodGet, "/fetcher/checkpoints/other", "").Code)
	})
}

func TestRequireToken(t *testing.T) {
	sign := func(t *testing.T, method jwt.SigningMethod, secret string) string {
		token, err := jwt.NewWithClaims(method, jwt.MapClaims{
			"sub": "ops",
			"exp": time.Now().Add(time.Minute).Unix(),
		}).SignedString([]byte(secret))
		require.NoError(t, err)
		return token
	}

	t.Run("control routes need a valid token", func(t *testing.T) {
		assert := assert.New(t)
		s := newTestServer("secret")

		assert.Equal(http.StatusUnauthorized, s.do(http.MethodPost, "/fetcher/stop", "").Code)
		assert.Equal(http.StatusUnauthorized, s.do(http.MethodPost, "/fetcher/stop", "",
			echo.HeaderAuthorization, "Bearer "+sign(t, jwt.SigningMethodHS256, "wrong")).Code)
		assert.Equal(http.StatusUnauthorized, s.do(http.MethodPost, "/fetcher/stop", "",
			echo.HeaderAuthorization, sign(t, jwt.SigningMethodHS256, "secret")).Code)

		rec := s.do(http.MethodPost, "/fetcher/start", `{"channelId":"chan1"}`,
			echo.HeaderAuthorization, "Bearer "+sign(t, jwt.SigningMethodHS256, "secret"))
		assert.Equal(http.StatusOK, rec.Code)
	})

	t.Run("read routes stay open", func(t *testing.T) {
		s := newTestServer("secret")
		assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/fetcher/status", "").Code)
	})

	t.Run("subject is exposed to handlers", func(t *testing.T) {
		assert := assert.New(t)
		e := echo.New()
		var subject interface{}
		e.GET("/", func(c echo.Context) error {
			subject = c.Get(ContextKeySubject)
			return c.NoContent(http.StatusNoContent)
		}, RequireToken("secret"))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+sign(t, jwt.SigningMethodHS512, "secret"))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(http.StatusNoContent, rec.Code)
		assert.Equal("ops", subject)
	})
}

func TestFetchMessages(t *testing.T) {
	page := &model.MessagePage{
		Messages: []model.FetchedMessage{
			{ID: 11, Text: model.StringPtr("a"), Date: time.Unix(1700000000, 0).UTC()},
			{ID: 12, FileID: model.StringPtr("f12"), Date: time.Unix(1700000060, 0).UTC()},
		},
		NextStartID: model.MessageIDPtr(11),
	}

	t.Run("query parameters become options", func(t *testing.T) {
		assert := assert.New(t)
		s := newTestServer("")
		s.messages.page = page

		rec := s.do(http.MethodGet, "/channels/chan1/messages?limit=2&startId=13&resolveFiles=true", "")
		assert.Equal(http.StatusOK, rec.Code)

		require.Len(t, s.messages.options, 1)
		opts := s.messages.options[0]
		assert.Equal(2, opts.Limit)
		assert.Equal(model.MessageID(13), *opts.StartID)
		assert.True(opts.ResolveFiles)

		var got model.MessagePage
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(model.MessageID(11), *got.NextStartID)
		assert.Len(got.Messages, 2)
		assert.Nil(got.Messages[1].Text)
	})

	t.Run("defaults leave options empty", func(t *testing.T) {
		assert := assert.New(t)
		s := newTestServer("")
		s.messages.page = &model.MessagePage{Messages: []model.FetchedMessage{}}

		rec := s.do(http.MethodGet, "/channels/chan1/messages", "")
		assert.Equal(http.StatusOK, rec.Code)
		assert.Contains(rec.Body.String(), `"nextStartId":null`)
		opts := s.messages.options[0]
		assert.Zero(opts.Limit)
		assert.Nil(opts.StartID)
		assert.False(opts.ResolveFiles)
	})

	t.Run("etag revalidation", func(t *testing.T) {
		assert := assert.New(t)
		s := newTestServer("")
		s.messages.page = page

		first := s.do(http.MethodGet, "/channels/chan1/messages", "")
		etag := first.Header().Get("ETag")
		assert.NotEmpty(etag)

		second := s.do(http.MethodGet, "/channels/chan1/messages", "", "If-None-Match", etag)
		assert.Equal(http.StatusNotModified, second.Code)
		assert.Empty(second.Body.String())

		third := s.do(http.MethodGet, "/channels/chan1/messages", "", "If-None-Match", `"stale"`)
		assert.Equal(http.StatusOK, third.Code)
	})

	t.Run("bad query parameters", func(t *testing.T) {
		s := newTestServer("")
		rec := s.do(http.MethodGet, "/channels/chan1/messages?limit=many", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("error mapping", func(t *testing.T) {
		tests := []struct {
			err    error
			status int
		}{
			{model.ErrorChannelNotFound, http.StatusNotFound},
			{model.ErrorConflictingCursors, http.StatusBadRequest},
			{model.ErrorInvalidCursor, http.StatusBadRequest},
			{errors.New("connection reset"), http.StatusBadGateway},
		}
		for _, tt := range tests {
			s := newTestServer("")
			s.messages.err = tt.err
			rec := s.do(http.MethodGet, "/channels/chan1/messages", "")
			assert.Equal(t, tt.status, rec.Code, tt.err.Error())
		}
	})
}

func TestResolveFile(t *testing.T) {
	t.Run("resolved", func(t *testing.T) {
		assert := assert.New(t)
		s := newTestServer("")
		s.messages.fileID = model.StringPtr("file-7")

		rec := s.do(http.MethodPost, "/files/resolve", `{"channelId":"chan1","messageId":7}`)
		assert.Equal(http.StatusOK, rec.Code)
		assert.JSONEq(`{"fileId":"file-7"}`, rec.Body.String())
	})

	t.Run("no media", func(t *testing.T) {
		s := newTestServer("")
		rec := s.do(http.MethodPost, "/files/resolve", `{"channelId":"chan1","messageId":7}`)
		assert.JSONEq(t, `{"fileId":null}`, rec.Body.String())
	})

	t.Run("missing channel", func(t *testing.T) {
		s := newTestServer("")
		rec := s.do(http.MethodPost, "/files/resolve", `{"messageId":7}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestArchivedMessages(t *testing.T) {
	assert := assert.New(t)
	s := newTestServer("")
	s.archive.messages = []model.FetchedMessage{{ID: 3, Text: model.StringPtr("c")}}

	rec := s.do(http.MethodGet, "/channels/chan1/archive?limit=500&beforeId=4", "")
	assert.Equal(http.StatusOK, rec.Code)
	assert.Equal(model.MessageID(4), s.archive.beforeID)
	assert.Equal(100, s.archive.limit)
	assert.Contains(rec.Body.String(), `"id":3`)
}

func TestHealthz(t *testing.T) {
	s := newTestServer("")
	rec := s.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
