package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

const (
	idempotencyKeyHeader    = "Idempotency-Key"
	idempotencyReplayHeader = "Idempotent-Replayed"
)

// responseRecorder копирует тело ответа, чтобы сохранить его под ключом идемпотентности.
type responseRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *responseRecorder) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *responseRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// idempotent повторяет сохранённый ответ для уже обработанного Idempotency-Key.
// Успешные ответы и ответы 4xx сохраняются, после 5xx ключ освобождается для повтора.
func (h *Handler) idempotent(operation domain.IdempotentOperation) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(idempotencyKeyHeader))
		if h.idem == nil || key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			writeFailure(c, http.StatusBadRequest, codeInvalidInput, "failed to read request body", nil)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		ctx := c.Request.Context()
		logger := h.logger.WithFields(log.Fields{"idempotency_key": key, "operation": operation})

		// Корректировка адресует запись через путь, поэтому он входит в отпечаток запроса.
		scope := string(operation)
		if id := c.Param("id"); id != "" {
			scope += ":" + id
		}

		record, err := h.idem.CreateProcessing(ctx, key, requestHash(scope, body), time.Now().UTC().Add(h.cfg.IdempotencyTTL))
		if err != nil {
			if !domain.IsIdempotencyConflict(err) {
				logger.WithError(err).Warn("failed to create idempotency record")
				writeFailure(c, http.StatusInternalServerError, codeInternal, "failed to initialize idempotency request", nil)
				return
			}
			replay(c, record, err)
			return
		}

		recorder := &responseRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		defer func() {
			// Паника выше по цепочке не должна оставить ключ в processing.
			if p := recover(); p != nil {
				h.releaseKey(ctx, logger, key)
				panic(p)
			}
			h.finishKey(ctx, logger, key, recorder)
		}()
		c.Next()
	}
}

func (h *Handler) finishKey(ctx context.Context, logger *log.Entry, key string, recorder *responseRecorder) {
	status := recorder.Status()
	switch {
	case status >= http.StatusInternalServerError:
		h.releaseKey(ctx, logger, key)
	case status >= http.StatusBadRequest:
		if err := h.idem.MarkFailed(ctx, key, recorder.body.Bytes(), status); err != nil {
			logger.WithError(err).Warn("failed to store idempotency failure response")
		}
	default:
		if err := h.idem.MarkDone(ctx, key, recorder.body.Bytes(), status); err != nil {
			logger.WithError(err).Warn("failed to store idempotent success response")
		}
	}
}

func (h *Handler) releaseKey(ctx context.Context, logger *log.Entry, key string) {
	if err := h.idem.Delete(ctx, key); err != nil {
		logger.WithError(err).Warn("failed to release idempotency key")
	}
}

func replay(c *gin.Context, record domain.IdempotencyRecord, createErr error) {
	if errors.Is(createErr, domain.ErrIdempotencyHashMismatch) {
		writeFailure(c, http.StatusConflict, codeIdempotencyConflict,
			"idempotency key is already used with different request payload", nil)
		return
	}

	switch {
	case record.Replayable():
		c.Header(idempotencyReplayHeader, "true")
		c.Data(record.HTTPStatus, gin.MIMEJSON+"; charset=utf-8", record.ResponseBody)
		c.Abort()
	case record.Status == domain.IdempotencyStatusProcessing:
		writeFailure(c, http.StatusConflict, codeIdempotencyConflict,
			"request with the same idempotency key is already processing", nil)
	default:
		writeFailure(c, http.StatusInternalServerError, codeInternal, "idempotency record has no stored response", nil)
	}
}

// requestHash не зависит от пробелов и переводов строк в JSON-теле.
func requestHash(operation string, body []byte) string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		compact.Reset()
		compact.Write(body)
	}

	payload := make([]byte, 0, len(operation)+1+compact.Len())
	payload = append(payload, operation...)
	payload = append(payload, ':')
	payload = append(payload, compact.Bytes()...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
