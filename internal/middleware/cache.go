package middleware

import (
    "bytes"
    "context"
    "crypto/sha1"
    "encoding/binary"
    "encoding/json"
    "fmt"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/rs/zerolog/log"

    "github.com/iliyamo/seat-settlement/internal/config"
)

// captureWriter captures response body/status while forwarding to the client.
type captureWriter struct {
    http.ResponseWriter
    status int
    buf    bytes.Buffer
    size   int64
    limit  int64
}

func (cw *captureWriter) WriteHeader(code int) { cw.status = code; cw.ResponseWriter.WriteHeader(code) }

func (cw *captureWriter) Write(b []byte) (int, error) {
    if cw.limit <= 0 || cw.size < cw.limit {
        cw.buf.Write(b)
    }
    cw.size += int64(len(b))
    return cw.ResponseWriter.Write(b)
}

// SeatMapCache caches seat map responses per event.  Every cached key of
// an event is tracked in a Redis set so that a lock change can drop them
// all at once.
type SeatMapCache struct {
    cfg config.CacheConfig
    rdb *redis.Client
}

// NewSeatMapCache returns a cache.  A nil client or a disabled config
// turns both the middleware and invalidation into no-ops.
func NewSeatMapCache(cfg config.CacheConfig, rdb *redis.Client) *SeatMapCache {
    if cfg.TTL <= 0 {
        cfg.TTL = 2 * time.Second
    }
    return &SeatMapCache{cfg: cfg, rdb: rdb}
}

func (sc *SeatMapCache) enabled() bool { return sc != nil && sc.cfg.Enabled && sc.rdb != nil }

func (sc *SeatMapCache) indexKey(eventID string) string {
    return sc.cfg.Prefix + ":event:" + eventID + ":keys"
}

// entryKey is stable for a path, query and session.  The session changes
// the lockedByMe projection and may arrive in a header only.
func (sc *SeatMapCache) entryKey(eventID string, c echo.Context) string {
    r := c.Request()
    sum := sha1.Sum([]byte(r.Method + " " + c.Path() + "?" + r.URL.RawQuery + "#" + SessionID(c)))
    return fmt.Sprintf("%s:event:%s:%x", sc.cfg.Prefix, eventID, sum[:])
}

// Middleware serves cached seat maps for routes with an :id event param.
func (sc *SeatMapCache) Middleware() echo.MiddlewareFunc {
    if !sc.enabled() {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    maxBody := int64(sc.cfg.MaxBodyBytes)

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            eventID := c.Param("id")
            if eventID == "" || !sc.cfg.Methods[strings.ToUpper(c.Request().Method)] {
                return next(c)
            }
            ctx := c.Request().Context()
            key := sc.entryKey(eventID, c)

            if bs, err := sc.rdb.Get(ctx, key).Bytes(); err == nil {
                if status, hdr, body, ok := decodePayload(bs); ok {
                    for k, vals := range hdr {
                        if strings.EqualFold(k, "Content-Length") {
                            continue
                        }
                        for _, v := range vals {
                            c.Response().Header().Add(k, v)
                        }
                    }
                    c.Response().Header().Set("X-Cache", "HIT")
                    c.Response().WriteHeader(status)
                    _, _ = c.Response().Write(body)
                    return nil
                }
            }

            cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: maxBody}
            c.Response().Writer = cw
            c.Response().Header().Set("X-Cache", "MISS")
            if err := next(c); err != nil {
                return err
            }
            // Truncated bodies are not cached.
            if cw.status != http.StatusOK || (maxBody > 0 && cw.size > maxBody) {
                return nil
            }
            payload, err := encodePayload(cw.status, c.Response().Header().Clone(), cw.buf.Bytes())
            if err != nil {
                return nil
            }
            sc.store(context.WithoutCancel(ctx), eventID, key, payload)
            return nil
        }
    }
}

func (sc *SeatMapCache) store(ctx context.Context, eventID, key string, payload []byte) {
    idx := sc.indexKey(eventID)
    pipe := sc.rdb.TxPipeline()
    pipe.Set(ctx, key, payload, sc.cfg.TTL)
    pipe.SAdd(ctx, idx, key)
    // The index outlives its entries only briefly.
    pipe.Expire(ctx, idx, 10*sc.cfg.TTL)
    if _, err := pipe.Exec(ctx); err != nil {
        log.Warn().Err(err).Str("event_id", eventID).Msg("seatmap cache: store failed")
    }
}

// InvalidateEvent drops every cached seat map of eventID.
func (sc *SeatMapCache) InvalidateEvent(ctx context.Context, eventID string) error {
    if !sc.enabled() {
        return nil
    }
    idx := sc.indexKey(eventID)
    keys, err := sc.rdb.SMembers(ctx, idx).Result()
    if err != nil {
        return fmt.Errorf("list cached keys: %w", err)
    }
    return sc.rdb.Del(ctx, append(keys, idx)...).Err()
}

// encodePayload packs: [4 bytes status][4 bytes headerLen][headerJSON][body]
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
    hdrJSON, err := json.Marshal(header)
    if err != nil {
        return nil, err
    }
    out := make([]byte, 8+len(hdrJSON)+len(body))
    binary.BigEndian.PutUint32(out[0:4], uint32(status))
    binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
    copy(out[8:], hdrJSON)
    copy(out[8+len(hdrJSON):], body)
    return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
    if len(bs) < 8 {
        return 0, nil, nil, false
    }
    status = int(binary.BigEndian.Uint32(bs[0:4]))
    hlen := int(binary.BigEndian.Uint32(bs[4:8]))
    if hlen < 0 || 8+hlen > len(bs) {
        return 0, nil, nil, false
    }
    header = make(http.Header)
    if hlen > 0 {
        if err := json.Unmarshal(bs[8:8+hlen], &header); err != nil {
            return 0, nil, nil, false
        }
    }
    return status, header, bs[8+hlen:], true
}
