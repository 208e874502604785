// Package httpapi is the local control surface: config, calls, contacts,
// status and metrics over JSON.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dense-identity/softphone/internal/calls"
	"github.com/dense-identity/softphone/internal/phone"
	"github.com/dense-identity/softphone/internal/softphone"
	"github.com/dense-identity/softphone/internal/state"
	"github.com/dense-identity/softphone/internal/store"
)

const headerRequestID = "X-Request-Id"

// Phone is what the handlers drive. *softphone.Phone implements it.
type Phone interface {
	Snapshot() state.Snapshot
	SetConfig(ctx context.Context, cfg phone.SipConfig) error
	Config(ctx context.Context) (phone.SipConfig, bool, error)
	ClearConfig(ctx context.Context) error
	Contacts(ctx context.Context) ([]phone.Contact, error)
	AddContact(ctx context.Context, name, number string) (phone.Contact, error)
	RemoveContact(ctx context.Context, id string) error
	PlaceCall(ctx context.Context, destination string) (phone.CallIdentity, error)
	CallContact(ctx context.Context, id string) (phone.CallIdentity, error)
	Answer(ctx context.Context) error
	Decline(ctx context.Context) error
	Hangup(ctx context.Context, signalingID string) error
	ToggleSpeaker(ctx context.Context) (bool, error)
}

var _ Phone = (*softphone.Phone)(nil)

type Handlers struct {
	Phone   Phone
	Metrics http.Handler
	Log     *logrus.Entry
}

// Router builds the gin engine with every route registered.
func (h Handlers) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.Log))

	r.GET("/healthz", h.Healthz)
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics))
	}

	v1 := r.Group("/v1")
	v1.GET("/status", h.Status)

	v1.GET("/config", h.GetConfig)
	v1.PUT("/config", h.PutConfig)
	v1.DELETE("/config", h.DeleteConfig)

	v1.POST("/calls", h.PlaceCall)
	v1.POST("/calls/answer", h.Answer)
	v1.POST("/calls/decline", h.Decline)
	v1.DELETE("/calls", h.Hangup)
	v1.POST("/speaker/toggle", h.ToggleSpeaker)

	v1.GET("/contacts", h.ListContacts)
	v1.POST("/contacts", h.AddContact)
	v1.DELETE("/contacts/:id", h.RemoveContact)
	return r
}

// requestLogger tags each request with an id and logs a summary line.
func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)

		c.Next()

		if log == nil {
			return
		}
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		entry := log.WithFields(logrus.Fields{
			"request_id":  rid,
			"method":      c.Request.Method,
			"path":        path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if len(c.Errors) > 0 {
			entry.WithField("errors", c.Errors.String()).Warn("request")
			return
		}
		entry.Debug("request")
	}
}

// abort maps err to a status code and writes the error body.
func abort(c *gin.Context, err error) {
	_ = c.Error(err)

	var verr *phone.ValidationError
	switch {
	case errors.As(err, &verr):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, phone.ErrInvalidDestination):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrAlreadyInCall):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, softphone.ErrNotRegistered), errors.Is(err, calls.ErrNoAccount):
		c.AbortWithStatusJSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h Handlers) Healthz(c *gin.Context) {
	snap := h.Phone.Snapshot()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "registration": snap.StatusName})
}

func (h Handlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.Phone.Snapshot())
}

func (h Handlers) GetConfig(c *gin.Context) {
	cfg, ok, err := h.Phone.Config(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no sip config stored"})
		return
	}
	c.JSON(http.StatusOK, cfg.Redacted())
}

// PutConfig saves and applies a config. A config that saved but failed to
// come up is reported with 502 and the diagnostic.
func (h Handlers) PutConfig(c *gin.Context) {
	var cfg phone.SipConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	err := h.Phone.SetConfig(c.Request.Context(), cfg)
	var verr *phone.ValidationError
	switch {
	case errors.As(err, &verr):
		abort(c, err)
	case err != nil:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error(), "state": h.Phone.Snapshot()})
	default:
		c.JSON(http.StatusAccepted, h.Phone.Snapshot())
	}
}

func (h Handlers) DeleteConfig(c *gin.Context) {
	if err := h.Phone.ClearConfig(c.Request.Context()); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type placeCallRequest struct {
	Destination string `json:"destination"`
	ContactID   string `json:"contact_id"`
}

func (h Handlers) PlaceCall(c *gin.Context) {
	var req placeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if (req.Destination == "") == (req.ContactID == "") {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "exactly one of destination, contact_id required"})
		return
	}

	var (
		id  phone.CallIdentity
		err error
	)
	if req.ContactID != "" {
		id, err = h.Phone.CallContact(c.Request.Context(), req.ContactID)
	} else {
		id, err = h.Phone.PlaceCall(c.Request.Context(), req.Destination)
	}
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, id)
}

func (h Handlers) Answer(c *gin.Context) {
	if err := h.Phone.Answer(c.Request.Context()); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) Decline(c *gin.Context) {
	if err := h.Phone.Decline(c.Request.Context()); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) Hangup(c *gin.Context) {
	if err := h.Phone.Hangup(c.Request.Context(), c.Query("id")); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) ToggleSpeaker(c *gin.Context) {
	on, err := h.Phone.ToggleSpeaker(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"speaker_on": on})
}

func (h Handlers) ListContacts(c *gin.Context) {
	contacts, err := h.Phone.Contacts(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	if contacts == nil {
		contacts = []phone.Contact{}
	}
	c.JSON(http.StatusOK, contacts)
}

type addContactRequest struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

func (h Handlers) AddContact(c *gin.Context) {
	var req addContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	contact, err := h.Phone.AddContact(c.Request.Context(), req.Name, req.Number)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, contact)
}

func (h Handlers) RemoveContact(c *gin.Context) {
	if err := h.Phone.RemoveContact(c.Request.Context(), c.Param("id")); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Serve runs the router on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler, log *logrus.Entry) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("http api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
