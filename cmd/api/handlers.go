package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/generation"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/middleware"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/payment"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/apperr"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

// maxWebhookBytes bounds the raw event body read before verification
const maxWebhookBytes = 1 << 20

const defaultReplayBatch = 10

func respondError(c *gin.Context, err error) {
	middleware.AbortWithError(c, err)
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := api.health.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// createGeneration accepts a multipart photo and starts a generation job
func (api *API) createGeneration(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, api.maxUploadBytes+64*1024)

	mode := models.ModeSticker
	if raw := strings.TrimSpace(c.PostForm("mode")); raw != "" {
		parsed, ok := models.ParseMode(raw)
		if !ok {
			respondError(c, apperr.Validation("mode must be \"image\" or \"sticker\""))
			return
		}
		mode = parsed
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, apperr.Validation("image exceeds the upload size limit"))
			return
		}
		respondError(c, apperr.Validation("an image file is required"))
		return
	}
	if fileHeader.Size > api.maxUploadBytes {
		respondError(c, apperr.Validation("image exceeds the upload size limit"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, apperr.Validation("could not read the uploaded image"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, api.maxUploadBytes+1))
	if err != nil || int64(len(data)) > api.maxUploadBytes {
		respondError(c, apperr.Validation("could not read the uploaded image"))
		return
	}
	metrics.ImageUploadSizeBytes.Observe(float64(len(data)))

	mime := fileHeader.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}

	plan := models.PlanFree
	if userID, ok := middleware.GetUserID(c); ok {
		plan, err = api.entitlements.Plan(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}
	}

	result, err := api.generator.Submit(c.Request.Context(), generation.SubmitRequest{
		Image: data,
		MIME:  mime,
		Mode:  mode,
		Plan:  plan,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":        result.JobID,
		"status":    result.Status,
		"mode":      mode,
		"plan":      plan,
		"transport": result.Transport,
	})
}

// getGeneration polls a job. The first time a signed-in caller sees it
// succeed it is charged against their quota.
func (api *API) getGeneration(c *gin.Context) {
	jobID := c.Param("id")

	mode := models.ModeSticker
	if raw := c.Query("mode"); raw != "" {
		parsed, ok := models.ParseMode(raw)
		if !ok {
			respondError(c, apperr.Validation("mode must be \"image\" or \"sticker\""))
			return
		}
		mode = parsed
	}

	status, err := api.generator.Poll(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, err)
		return
	}

	if status.Status == models.JobStatusSucceeded {
		if userID, ok := middleware.GetUserID(c); ok {
			if err := api.recorder.RecordSuccess(c.Request.Context(), userID, status.ID, mode); err != nil {
				// The job result is still returned; the charge is retried on the next poll
				api.logger.WithError(err).WithGenerationID(status.ID).Error("failed to record generation")
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"id":         status.ID,
		"status":     status.Status,
		"output_url": status.OutputURL,
		"error":      status.Error,
		"done":       models.IsTerminalJobStatus(status.Status),
	})
}

func (api *API) createStickerCheckout(c *gin.Context) {
	var req payment.StickerCheckout
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid checkout request body"))
		return
	}

	link, err := api.payments.CreateStickerCheckout(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, link)
}

func (api *API) createProCheckout(c *gin.Context) {
	user := middleware.GetUser(c)
	if user == nil {
		respondError(c, apperr.ErrUnauthorized)
		return
	}

	link, err := api.payments.CreateProCheckout(c.Request.Context(), user.Email, user.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, link)
}

// handleStripeWebhook verifies the raw body before anything is parsed. Once
// verified the event is always acknowledged; step failures are in the body.
func (api *API) handleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes+1))
	if err != nil || len(payload) > maxWebhookBytes {
		respondError(c, apperr.Validation("unreadable webhook body"))
		return
	}

	event, err := api.payments.VerifyEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		api.logger.WithError(err).Warn("rejected webhook with invalid signature")
		respondError(c, err)
		return
	}

	// Side effects finish even if the processor hangs up
	ctx := context.WithoutCancel(c.Request.Context())
	outcome := api.events.Handle(ctx, event)

	c.JSON(http.StatusOK, outcome)
}

func (api *API) requestLogin(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid login request body"))
		return
	}

	if err := api.sessions.RequestLogin(c.Request.Context(), req.Email); err != nil {
		respondError(c, err)
		return
	}

	// Same answer whether or not the address was known
	c.JSON(http.StatusAccepted, gin.H{"sent": true})
}

func (api *API) verifyLogin(c *gin.Context) {
	cookie, _, err := api.sessions.Verify(c.Request.Context(), c.Query("token"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(api.cookie.Name, cookie, int(api.sessions.SessionTTL().Seconds()), "/", "", api.cookie.Secure, true)
	c.Redirect(http.StatusSeeOther, api.baseURL)
}

func (api *API) getSession(c *gin.Context) {
	user := middleware.GetUser(c)
	if user == nil {
		c.JSON(http.StatusOK, gin.H{
			"authenticated": false,
			"plan":          models.PlanFree,
		})
		return
	}

	usage, err := api.entitlements.Usage(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"email":         user.Email,
		"plan":          usage.Plan,
		"used":          usage.Used,
		"limit":         usage.Limit,
		"windowHours":   usage.WindowHours,
	})
}

func (api *API) logout(c *gin.Context) {
	if cookie, err := c.Cookie(api.cookie.Name); err == nil && cookie != "" {
		if err := api.sessions.SignOut(c.Request.Context(), cookie); err != nil {
			respondError(c, err)
			return
		}
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(api.cookie.Name, "", -1, "/", "", api.cookie.Secure, true)
	c.JSON(http.StatusOK, gin.H{"signed_out": true})
}

func (api *API) refreshCatalog(c *gin.Context) {
	country := c.Param("country")

	variants, err := api.catalog.Refresh(c.Request.Context(), country)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"country":  country,
		"count":    len(variants),
		"variants": variants,
	})
}

func (api *API) getFailureDepth(c *gin.Context) {
	if api.failures == nil {
		c.JSON(http.StatusOK, gin.H{"queue": "disabled"})
		return
	}

	depth, err := api.failures.Depth()
	if err != nil {
		respondError(c, apperr.Wrap(apperr.KindUpstream, apperr.CodeInternal, "failed to inspect failure queue", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"queue": "enabled", "depth": depth})
}

// replayFailures resubmits parked orders with their original dedup keys. Orders
// the partner rejects again are requeued behind the rest and reported in the body.
func (api *API) replayFailures(c *gin.Context) {
	if api.failures == nil {
		respondError(c, apperr.New(apperr.KindNotFound, apperr.CodeNotFound, "failure queue is not configured"))
		return
	}

	max := defaultReplayBatch
	if raw := c.Query("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, apperr.Validation("max must be a positive integer"))
			return
		}
		max = n
	}

	replayed, err := api.failures.Replay(c.Request.Context(), max, api.resubmitter.Resubmit)
	body := gin.H{"replayed": replayed}
	if err != nil {
		body["error"] = err.Error()
		body["code"] = apperr.CodeOf(err)
	}

	c.JSON(http.StatusOK, body)
}
