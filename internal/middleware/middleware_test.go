package middleware

import (
    "context"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "github.com/go-redis/redismock/v9"
    "github.com/labstack/echo/v4"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/seat-settlement/internal/config"
    "github.com/iliyamo/seat-settlement/internal/model"
    "github.com/iliyamo/seat-settlement/internal/utils"
)

const secret = "test-secret"

func okHandler(c echo.Context) error {
    id, _ := UserID(c)
    return c.JSON(http.StatusOK, echo.Map{"user": id, "role": Role(c)})
}

func serve(t *testing.T, h echo.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
    t.Helper()
    e := echo.New()
    rec := httptest.NewRecorder()
    c := e.NewContext(req, rec)
    require.NoError(t, h(c))
    return rec
}

func TestJWTAuthAcceptsStaffToken(t *testing.T) {
    tok, err := utils.NewAccessToken(secret, 7, model.RoleStaff, 5)
    require.NoError(t, err)

    req := httptest.NewRequest(http.MethodGet, "/", nil)
    req.Header.Set("Authorization", "Bearer "+tok.Token)
    rec := serve(t, JWTAuth(secret)(RequireRole(model.RoleStaff, model.RoleAdmin)(okHandler)), req)

    assert.Equal(t, http.StatusOK, rec.Code)
    assert.JSONEq(t, `{"user":7,"role":"STAFF"}`, rec.Body.String())
}

func TestJWTAuthRejects(t *testing.T) {
    tok, err := utils.NewAccessToken("other-secret", 7, model.RoleStaff, 5)
    require.NoError(t, err)

    cases := map[string]string{
        "missing":      "",
        "not bearer":   "Basic abc",
        "wrong secret": "Bearer " + tok.Token,
        "garbage":      "Bearer abc.def.ghi",
    }
    for name, header := range cases {
        t.Run(name, func(t *testing.T) {
            req := httptest.NewRequest(http.MethodGet, "/", nil)
            if header != "" {
                req.Header.Set("Authorization", header)
            }
            rec := serve(t, JWTAuth(secret)(okHandler), req)
            assert.Equal(t, http.StatusUnauthorized, rec.Code)
        })
    }
}

func TestRequireRoleForbidsOtherRoles(t *testing.T) {
    tok, err := utils.NewAccessToken(secret, 7, model.RoleStaff, 5)
    require.NoError(t, err)
    req := httptest.NewRequest(http.MethodGet, "/", nil)
    req.Header.Set("Authorization", "Bearer "+tok.Token)

    rec := serve(t, JWTAuth(secret)(RequireRole(model.RoleAdmin)(okHandler)), req)
    assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSessionID(t *testing.T) {
    e := echo.New()
    req := httptest.NewRequest(http.MethodGet, "/?sessionId=q-sess", nil)
    c := e.NewContext(req, httptest.NewRecorder())
    assert.Equal(t, "q-sess", SessionID(c))

    req.Header.Set(SessionHeader, " h-sess ")
    assert.Equal(t, "h-sess", SessionID(c))
}

func TestBuildRateKeyUsesSession(t *testing.T) {
    e := echo.New()
    req := httptest.NewRequest(http.MethodPost, "/v1/lock", nil)
    req.Header.Set(SessionHeader, "abc")
    req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
    c := e.NewContext(req, httptest.NewRecorder())
    c.SetPath("/v1/lock")

    cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "ip_session_route"}
    assert.Equal(t, "rl:ip:10.0.0.1:who:sabc:route:POST /v1/lock", buildRateKey(cfg, c))

    c.Set(ctxUserID, uint64(9))
    cfg.KeyStrategy = "session"
    assert.Equal(t, "rl:who:u9", buildRateKey(cfg, c))
}

func TestTokenBucketDisabledPassesThrough(t *testing.T) {
    req := httptest.NewRequest(http.MethodGet, "/", nil)
    rec := serve(t, NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil)(okHandler), req)
    assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPayloadRoundTrip(t *testing.T) {
    hdr := http.Header{"Content-Type": {"application/json"}}
    bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"a":1}`))
    require.NoError(t, err)
    status, got, body, ok := decodePayload(bs)
    require.True(t, ok)
    assert.Equal(t, http.StatusOK, status)
    assert.Equal(t, "application/json", got.Get("Content-Type"))
    assert.Equal(t, `{"a":1}`, string(body))

    _, _, _, ok = decodePayload([]byte{0, 1})
    assert.False(t, ok)
}

func TestInvalidateEventDropsTrackedKeys(t *testing.T) {
    rdb, mock := redismock.NewClientMock()
    sc := NewSeatMapCache(config.CacheConfig{Enabled: true, Prefix: "seatmap", TTL: time.Second}, rdb)

    mock.ExpectSMembers("seatmap:event:evt-1:keys").SetVal([]string{"seatmap:event:evt-1:aa", "seatmap:event:evt-1:bb"})
    mock.ExpectDel("seatmap:event:evt-1:aa", "seatmap:event:evt-1:bb", "seatmap:event:evt-1:keys").SetVal(3)

    require.NoError(t, sc.InvalidateEvent(context.Background(), "evt-1"))
    require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeatMapCacheDisabledWithoutRedis(t *testing.T) {
    sc := NewSeatMapCache(config.CacheConfig{Enabled: true}, nil)
    require.NoError(t, sc.InvalidateEvent(context.Background(), "evt-1"))

    req := httptest.NewRequest(http.MethodGet, "/", nil)
    rec := serve(t, sc.Middleware()(okHandler), req)
    assert.Equal(t, http.StatusOK, rec.Code)
    assert.Empty(t, rec.Header().Get("X-Cache"))
}

func seatMapContext(req *http.Request, rec *httptest.ResponseRecorder) echo.Context {
    c := echo.New().NewContext(req, rec)
    c.SetPath("/v1/events/:id/seats")
    c.SetParamNames("id")
    c.SetParamValues("evt-1")
    return c
}

func TestSeatMapCacheKeysByHeaderSession(t *testing.T) {
    rdb, mock := redismock.NewClientMock()
    sc := NewSeatMapCache(config.CacheConfig{
        Enabled: true, Prefix: "seatmap", TTL: time.Second,
        Methods: map[string]bool{http.MethodGet: true},
    }, rdb)

    newReq := func(session string) *http.Request {
        req := httptest.NewRequest(http.MethodGet, "/v1/events/evt-1/seats", nil)
        req.Header.Set(SessionHeader, session)
        return req
    }
    keyA := sc.entryKey("evt-1", seatMapContext(newReq("sess-a"), httptest.NewRecorder()))
    keyB := sc.entryKey("evt-1", seatMapContext(newReq("sess-b"), httptest.NewRecorder()))
    require.NotEqual(t, keyA, keyB)

    cached, err := encodePayload(http.StatusOK, http.Header{"Content-Type": {"application/json"}}, []byte(`{"session":"sess-a"}`))
    require.NoError(t, err)
    mock.ExpectGet(keyA).SetVal(string(cached))
    mock.ExpectGet(keyB).RedisNil()

    echoSession := func(c echo.Context) error {
        return c.JSON(http.StatusOK, echo.Map{"session": SessionID(c)})
    }
    mw := sc.Middleware()(echoSession)

    recA := httptest.NewRecorder()
    require.NoError(t, mw(seatMapContext(newReq("sess-a"), recA)))
    assert.Equal(t, "HIT", recA.Header().Get("X-Cache"))
    assert.JSONEq(t, `{"session":"sess-a"}`, recA.Body.String())

    // Another session must not be served the first one's projection.
    recB := httptest.NewRecorder()
    require.NoError(t, mw(seatMapContext(newReq("sess-b"), recB)))
    assert.Equal(t, "MISS", recB.Header().Get("X-Cache"))
    assert.JSONEq(t, `{"session":"sess-b"}`, recB.Body.String())
    require.NoError(t, mock.ExpectationsWereMet())
}
