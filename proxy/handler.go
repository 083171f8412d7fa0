package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"

	ginmw "github.com/jassus213/go-finance-proxy/middleware/gin"
	"github.com/jassus213/go-finance-proxy/ratelimiter"
)

const successCacheControl = "public, max-age=5, stale-while-revalidate=25"

// ErrorBody is the JSON body of every failed proxy response.
type ErrorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// Handler exposes a Service over HTTP.
type Handler struct {
	svc     *Service
	keyFunc ratelimiter.KeyFunc
	logger  ratelimiter.Logger
	now     func() time.Time
}

// NewHandler creates a Handler. keyFunc identifies the caller for rate
// limiting.
func NewHandler(svc *Service, keyFunc ratelimiter.KeyFunc, logger ratelimiter.Logger) *Handler {
	if keyFunc == nil {
		keyFunc = ratelimiter.RemoteIP
	}
	if logger == nil {
		logger = ratelimiter.NopLogger()
	}
	return &Handler{svc: svc, keyFunc: keyFunc, logger: logger, now: time.Now}
}

// Register mounts the proxy routes.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/proxy", h.Proxy)
	r.GET("/api/proxy", h.Proxy)
	r.HEAD("/proxy", h.Health)
	r.HEAD("/api/proxy", h.Health)
	r.GET("/stats", h.Stats)
}

// Proxy handles GET /proxy?url=<upstream URL>.
func (h *Handler) Proxy(c *gin.Context) {
	start := h.now()

	key, err := h.keyFunc(c.Request)
	if err != nil || key == "" {
		key = ratelimiter.UnknownKey
	}

	resp, err := h.svc.Do(c.Request.Context(), Request{
		RawURL:    c.Query("url"),
		CallerKey: key,
		RequestID: c.GetString(ginmw.RequestIDKey),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	cacheState := "MISS"
	if resp.FromCache {
		cacheState = "HIT"
	}
	c.Header("Cache-Control", successCacheControl)
	c.Header("X-Proxy-Cache", cacheState)
	c.Header("X-Response-Time", fmt.Sprintf("%dms", h.now().Sub(start).Milliseconds()))
	ratelimiter.SetHeaders(c.Writer.Header(), resp.RateLimit, start)
	c.Data(resp.Status, resp.ContentType, resp.Body)
}

// Health handles HEAD /proxy.
func (h *Handler) Health(c *gin.Context) {
	c.Status(http.StatusOK)
}

// Stats handles GET /stats.
func (h *Handler) Stats(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, h.svc.Stats())
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var perr *Error
	if !errors.As(err, &perr) {
		perr = internalError(err)
	}
	if perr.Kind == KindInternal {
		h.logger.Errorf("[%s] proxy error: %v", c.GetString(ginmw.RequestIDKey), perr.Cause)
	}

	if perr.Kind == KindRateLimited {
		ratelimiter.SetHeaders(c.Writer.Header(), perr.RateLimit, h.now())
	}
	WriteError(c.Writer, perr)
}

// WriteError writes perr as a JSON error response.
func WriteError(w http.ResponseWriter, perr *Error) {
	w.Header().Set("Cache-Control", "no-store")
	if perr.Kind == KindRateLimited {
		w.Header().Set("Retry-After", ratelimiter.RetryAfterSeconds(perr.RetryAfter()))
	}
	body := render.JSON{Data: ErrorBody{Error: perr.Message, Code: perr.Code(), Details: perr.Details}}
	body.WriteContentType(w)
	w.WriteHeader(perr.HTTPStatus())
	_ = body.Render(w)
}

// GlobalLimitExceeded is a ratelimiter.ErrorHandler that answers in the proxy's
// error format.
func GlobalLimitExceeded(w http.ResponseWriter, r *http.Request, err error, result ratelimiter.Result) {
	WriteError(w, &Error{
		Kind:      KindRateLimited,
		Message:   "Rate limit exceeded",
		Details:   "Too many requests from this client",
		RateLimit: result,
		Cause:     err,
	})
}
