// Package queue implements a queue based provider: jobs are enqueued, their
// status can be polled, and completion is pushed to a webhook when a callback
// URL is supplied at submission.
//
// Wire format:
//
//	POST {base}/{endpoint}?fal_webhook={callback}    submit, returns request_id
//	GET  {base}/{endpoint}/requests/{id}/status      IN_QUEUE | IN_PROGRESS | COMPLETED
//	GET  {base}/{endpoint}/requests/{id}             result document
//	PUT  {base}/{endpoint}/requests/{id}/cancel      best-effort cancel
//	GET  {base}/models                               model catalog
package queue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stacklok/toolhive-imagegen-server/internal/httpclient"
	"github.com/stacklok/toolhive-imagegen-server/internal/provider"
)

const (
	statusInQueue    = "IN_QUEUE"
	statusInProgress = "IN_PROGRESS"
	statusCompleted  = "COMPLETED"

	webhookOK = "OK"
)

// Options configures an Adapter.
type Options struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// Client overrides the HTTP client, mainly for tests
	Client *http.Client
}

// Adapter talks to a queue based provider.
type Adapter struct {
	name    string
	baseURL string
	header  http.Header
	client  *http.Client
}

var (
	_ provider.Adapter       = (*Adapter)(nil)
	_ provider.Poller        = (*Adapter)(nil)
	_ provider.Canceller     = (*Adapter)(nil)
	_ provider.WebhookParser = (*Adapter)(nil)
	_ provider.ModelLister   = (*Adapter)(nil)
)

// New creates a queue Adapter.
func New(opts Options) (*Adapter, error) {
	if opts.Name == "" {
		return nil, errors.New("provider name is required")
	}
	if _, err := url.ParseRequestURI(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("provider %s: invalid base URL: %w", opts.Name, err)
	}
	client := opts.Client
	if client == nil {
		client = httpclient.NewHTTPClient(opts.Timeout)
	}
	header := http.Header{}
	if opts.APIKey != "" {
		header.Set("Authorization", "Key "+opts.APIKey)
	}
	return &Adapter{
		name:    opts.Name,
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		header:  header,
		client:  client,
	}, nil
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string {
	return a.name
}

// Submit implements provider.Adapter.
func (a *Adapter) Submit(ctx context.Context, req provider.SubmitRequest) (*provider.Submission, error) {
	target, err := url.JoinPath(a.baseURL, req.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to build submit URL: %w", err)
	}
	if req.CallbackURL != "" {
		target += "?" + url.Values{"fal_webhook": []string{req.CallbackURL}}.Encode()
	}

	body, err := provider.Call(ctx, a.client, a.name, http.MethodPost, target, a.header, req.Input)
	if err != nil {
		return nil, err
	}

	requestID := gjson.GetBytes(body, "request_id").String()
	if requestID == "" {
		return nil, provider.Rejected(a.name, "response did not include a request id")
	}
	position := -1
	if qp := gjson.GetBytes(body, "queue_position"); qp.Exists() {
		position = int(qp.Int())
	}
	return &provider.Submission{RequestID: requestID, QueuePosition: position}, nil
}

func (a *Adapter) requestURL(ref provider.RequestRef, suffix ...string) (string, error) {
	elems := append([]string{ref.Endpoint, "requests", ref.RequestID}, suffix...)
	return url.JoinPath(a.baseURL, elems...)
}

// Poll implements provider.Poller.
func (a *Adapter) Poll(ctx context.Context, ref provider.RequestRef) (*provider.Outcome, error) {
	statusURL, err := a.requestURL(ref, "status")
	if err != nil {
		return nil, err
	}
	body, err := provider.Call(ctx, a.client, a.name, http.MethodGet, statusURL, a.header, nil)
	if err != nil {
		return nil, err
	}

	status := gjson.GetBytes(body, "status").String()
	switch status {
	case statusInQueue, statusInProgress:
		return &provider.Outcome{
			State:         provider.StatePending,
			QueuePosition: int(gjson.GetBytes(body, "queue_position").Int()),
		}, nil
	case statusCompleted:
		if msg := gjson.GetBytes(body, "error").String(); msg != "" {
			return &provider.Outcome{State: provider.StateFailed, Message: msg}, nil
		}
	default:
		return nil, provider.Rejected(a.name, fmt.Sprintf("unexpected job status %q", status))
	}

	resultURL, err := a.requestURL(ref)
	if err != nil {
		return nil, err
	}
	result, err := provider.Call(ctx, a.client, a.name, http.MethodGet, resultURL, a.header, nil)
	if err != nil {
		var perr *provider.Error
		// the job finished but its result was refused; that is the job's outcome
		if errors.As(err, &perr) && perr.Kind == provider.KindRejected {
			return &provider.Outcome{State: provider.StateFailed, Message: perr.Message}, nil
		}
		return nil, err
	}
	return &provider.Outcome{
		State:     provider.StateSucceeded,
		Artifacts: parseImages(gjson.ParseBytes(result)),
	}, nil
}

// Cancel implements provider.Canceller.
func (a *Adapter) Cancel(ctx context.Context, ref provider.RequestRef) error {
	cancelURL, err := a.requestURL(ref, "cancel")
	if err != nil {
		return err
	}
	_, err = provider.Call(ctx, a.client, a.name, http.MethodPut, cancelURL, a.header, nil)
	return err
}

// ParseWebhook implements provider.WebhookParser.
func (a *Adapter) ParseWebhook(_ http.Header, body []byte) (*provider.WebhookEvent, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("webhook body is not valid JSON")
	}
	doc := gjson.ParseBytes(body)
	requestID := doc.Get("request_id").String()
	if requestID == "" {
		return nil, errors.New("webhook body has no request_id")
	}

	event := &provider.WebhookEvent{RequestID: requestID}
	if doc.Get("status").String() == webhookOK {
		event.Outcome = provider.Outcome{
			State:     provider.StateSucceeded,
			Artifacts: parseImages(doc.Get("payload")),
		}
		return event, nil
	}

	msg := doc.Get("error").String()
	if msg == "" {
		msg = provider.ErrorMessage([]byte(doc.Get("payload").Raw))
	}
	if msg == "" {
		msg = "generation failed"
	}
	event.Outcome = provider.Outcome{State: provider.StateFailed, Message: msg}
	return event, nil
}

// ListModels implements provider.ModelLister.
func (a *Adapter) ListModels(ctx context.Context) ([]provider.Model, error) {
	body, err := provider.Call(ctx, a.client, a.name, http.MethodGet, a.baseURL+"/models", a.header, nil)
	if err != nil {
		return nil, err
	}
	var models []provider.Model
	for _, m := range gjson.GetBytes(body, "models").Array() {
		endpoint := m.Get("endpoint").String()
		if endpoint == "" {
			continue
		}
		name := m.Get("name").String()
		if name == "" {
			name = endpoint
		}
		models = append(models, provider.Model{
			Endpoint:    endpoint,
			Name:        name,
			Description: m.Get("description").String(),
			Provider:    a.name,
		})
	}
	return models, nil
}

// parseImages reads the "images" array, or a single "image" object, of a
// result document. Entries without a usable URL are dropped.
func parseImages(doc gjson.Result) []provider.ArtifactData {
	images := doc.Get("images").Array()
	if len(images) == 0 {
		if single := doc.Get("image"); single.IsObject() {
			images = []gjson.Result{single}
		}
	}

	artifacts := make([]provider.ArtifactData, 0, len(images))
	for _, img := range images {
		artifact := provider.ArtifactData{
			ContentType: img.Get("content_type").String(),
			Width:       int(img.Get("width").Int()),
			Height:      int(img.Get("height").Int()),
		}
		raw := img.Get("url").String()
		data, ct, isDataURI, err := provider.DecodeDataURI(raw)
		switch {
		case raw == "", err != nil:
			continue
		case isDataURI:
			artifact.Data = data
			if artifact.ContentType == "" {
				artifact.ContentType = ct
			}
		default:
			artifact.URL = raw
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts
}
