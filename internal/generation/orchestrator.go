package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/imageprep"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/apperr"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

// fallbackSignatures are the rejection texts that mean the inline payload
// itself was refused. Anything else is terminal.
var fallbackSignatures = []string{
	"payload too large",
	"request entity too large",
	"413",
	"data uri",
	"inline image",
	"image too large",
	"unsupported image",
}

// SubmitRequest is an uploaded photo to turn into artwork
type SubmitRequest struct {
	Image []byte
	MIME  string
	Mode  models.Mode
	Plan  models.Plan
}

// SubmitResult identifies the accepted job
type SubmitResult struct {
	JobID     string           `json:"id"`
	Status    string           `json:"status"`
	Transport models.Transport `json:"transport"`
}

// JobStatus is the pass-through view of a job returned to pollers
type JobStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	OutputURL string `json:"output_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Options hold the fixed request settings
type Options struct {
	Prep         imageprep.Options
	Quality      string
	OutputFormat string
}

// Orchestrator prepares images and submits them with an inline-then-hosted fallback
type Orchestrator struct {
	provider Provider
	host     FileHost
	opts     Options
	logger   *logging.Logger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(provider Provider, host FileHost, opts Options, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		provider: provider,
		host:     host,
		opts:     opts,
		logger:   logger,
	}
}

// Submit prepares the image and creates a job. The image is first sent inline;
// only a recognized payload rejection triggers one upload to the file host and
// one resubmission by URL.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if !o.provider.Configured() {
		return nil, apperr.ErrMissingCredentials
	}

	prepared, err := imageprep.Prepare(req.Image, req.MIME, req.Mode, o.opts.Prep)
	if err != nil {
		return nil, err
	}

	prompt := SelectPrompt(req.Mode, req.Plan)
	jobReq := JobRequest{
		Image:        dataURI(prepared),
		Prompt:       prompt.Text,
		Background:   prompt.Background,
		Quality:      o.opts.Quality,
		OutputFormat: o.opts.OutputFormat,
	}

	transport := models.TransportInline
	job, err := o.provider.CreateJob(ctx, jobReq)
	if err != nil {
		if !IsFallbackEligible(err) {
			return nil, providerError(err)
		}

		o.logger.WithError(err).Warn("inline image rejected, retrying through file host")

		publicURL, uploadErr := o.host.Upload(ctx, uuid.New().String()+".png", prepared.Data, prepared.MIME)
		metrics.RecordFallbackUpload(uploadErr)
		if uploadErr != nil {
			return nil, apperr.Wrap(apperr.KindUpstream, apperr.CodeUploadFailed, apperr.ErrUploadFailed.Message, uploadErr)
		}

		jobReq.Image = publicURL
		transport = models.TransportFileHost
		job, err = o.provider.CreateJob(ctx, jobReq)
		if err != nil {
			return nil, providerError(err)
		}
	}

	if job.ID == "" {
		return nil, apperr.ProviderError("missing_job_id", "provider accepted the job without an id")
	}

	metrics.RecordGenerationSubmitted(string(req.Mode), string(req.Plan), string(transport))
	o.logger.WithGenerationID(job.ID).WithField("transport", transport).Info("generation job submitted")

	return &SubmitResult{JobID: job.ID, Status: job.Status, Transport: transport}, nil
}

// Poll reads the job from the provider. It has no side effects; the caller
// records successful generations.
func (o *Orchestrator) Poll(ctx context.Context, jobID string) (*JobStatus, error) {
	if !o.provider.Configured() {
		return nil, apperr.ErrMissingCredentials
	}

	job, err := o.provider.GetJob(ctx, jobID)
	if err != nil {
		var rejection *RejectionError
		if errors.As(err, &rejection) && rejection.StatusCode == 404 {
			return nil, apperr.New(apperr.KindNotFound, apperr.CodeNotFound, "generation job not found")
		}
		return nil, providerError(err)
	}

	status := &JobStatus{ID: job.ID, Status: job.Status, Error: job.Error}
	if status.ID == "" {
		status.ID = jobID
	}
	if len(job.Outputs) > 0 {
		status.OutputURL = job.Outputs[len(job.Outputs)-1]
	}
	return status, nil
}

// IsFallbackEligible reports whether err is a provider rejection of the inline payload
func IsFallbackEligible(err error) bool {
	var rejection *RejectionError
	if !errors.As(err, &rejection) {
		return false
	}
	if rejection.StatusCode == 413 {
		return true
	}

	text := strings.ToLower(rejection.Body)
	for _, sig := range fallbackSignatures {
		if strings.Contains(text, sig) {
			return true
		}
	}
	return false
}

func providerError(err error) error {
	var rejection *RejectionError
	if errors.As(err, &rejection) {
		e := apperr.ProviderError(strconv.Itoa(rejection.StatusCode), rejection.Body)
		e.Err = err
		return e
	}
	return apperr.Wrap(apperr.KindUpstream, apperr.CodeProviderError, "generation provider unreachable", err)
}

func dataURI(p *imageprep.Prepared) string {
	return fmt.Sprintf("data:%s;base64,%s", p.MIME, base64.StdEncoding.EncodeToString(p.Data))
}
