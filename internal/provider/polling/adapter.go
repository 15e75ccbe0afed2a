// Package polling implements a prediction style provider that never pushes
// results. Jobs are created and then polled until they settle.
//
// Wire format:
//
//	POST {base}/predictions                 {"model": endpoint, "input": {...}} returns id
//	GET  {base}/predictions/{id}            starting | processing | succeeded | failed | canceled
//	POST {base}/predictions/{id}/cancel     best-effort cancel
//	GET  {base}/models                      model catalog
package polling

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
	statusStarting   = "starting"
	statusProcessing = "processing"
	statusSucceeded  = "succeeded"
	statusFailed     = "failed"
	statusCanceled   = "canceled"
)

// Options configures an Adapter.
type Options struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Client  *http.Client
}

// Adapter talks to a polling-only provider. It deliberately does not
// implement provider.WebhookParser, so callers never pass it a callback.
type Adapter struct {
	name    string
	baseURL string
	header  http.Header
	client  *http.Client
}

var (
	_ provider.Adapter     = (*Adapter)(nil)
	_ provider.Poller      = (*Adapter)(nil)
	_ provider.Canceller   = (*Adapter)(nil)
	_ provider.ModelLister = (*Adapter)(nil)
)

// New creates a polling Adapter.
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
		header.Set("Authorization", "Bearer "+opts.APIKey)
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

// Submit implements provider.Adapter. The callback URL is ignored.
func (a *Adapter) Submit(ctx context.Context, req provider.SubmitRequest) (*provider.Submission, error) {
	payload := map[string]any{"model": req.Endpoint, "input": req.Input}
	body, err := provider.Call(ctx, a.client, a.name, http.MethodPost, a.baseURL+"/predictions", a.header, payload)
	if err != nil {
		return nil, err
	}
	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		return nil, provider.Rejected(a.name, "response did not include a prediction id")
	}
	return &provider.Submission{RequestID: id, QueuePosition: -1}, nil
}

func (a *Adapter) predictionURL(id string, suffix ...string) (string, error) {
	return url.JoinPath(a.baseURL, append([]string{"predictions", id}, suffix...)...)
}

// Poll implements provider.Poller.
func (a *Adapter) Poll(ctx context.Context, ref provider.RequestRef) (*provider.Outcome, error) {
	target, err := a.predictionURL(ref.RequestID)
	if err != nil {
		return nil, err
	}
	body, err := provider.Call(ctx, a.client, a.name, http.MethodGet, target, a.header, nil)
	if err != nil {
		var perr *provider.Error
		// an unknown or refused prediction never settles on its own
		if errors.As(err, &perr) && perr.Kind == provider.KindRejected {
			msg := perr.Message
			if msg == "" {
				msg = fmt.Sprintf("prediction lookup returned HTTP %d", perr.StatusCode)
			}
			return &provider.Outcome{State: provider.StateFailed, Message: msg}, nil
		}
		return nil, err
	}

	doc := gjson.ParseBytes(body)
	switch status := doc.Get("status").String(); status {
	case statusStarting, statusProcessing:
		return &provider.Outcome{State: provider.StatePending, QueuePosition: -1}, nil
	case statusSucceeded:
		return &provider.Outcome{State: provider.StateSucceeded, Artifacts: parseOutput(doc.Get("output"))}, nil
	case statusFailed, statusCanceled:
		msg := doc.Get("error").String()
		if msg == "" {
			msg = "prediction " + status
		}
		return &provider.Outcome{State: provider.StateFailed, Message: msg}, nil
	default:
		return &provider.Outcome{
			State:   provider.StateFailed,
			Message: fmt.Sprintf("unexpected prediction status %q", status),
		}, nil
	}
}

// Cancel implements provider.Canceller.
func (a *Adapter) Cancel(ctx context.Context, ref provider.RequestRef) error {
	target, err := a.predictionURL(ref.RequestID, "cancel")
	if err != nil {
		return err
	}
	_, err = provider.Call(ctx, a.client, a.name, http.MethodPost, target, a.header, nil)
	return err
}

// ListModels implements provider.ModelLister.
func (a *Adapter) ListModels(ctx context.Context) ([]provider.Model, error) {
	body, err := provider.Call(ctx, a.client, a.name, http.MethodGet, a.baseURL+"/models", a.header, nil)
	if err != nil {
		return nil, err
	}
	var models []provider.Model
	for _, m := range gjson.GetBytes(body, "results").Array() {
		owner, name := m.Get("owner").String(), m.Get("name").String()
		if owner == "" || name == "" {
			continue
		}
		models = append(models, provider.Model{
			Endpoint:    owner + "/" + name,
			Name:        name,
			Description: m.Get("description").String(),
			Provider:    a.name,
		})
	}
	return models, nil
}

// parseOutput accepts a single URL string, an array of URL strings, or an
// array of {url, content_type} objects.
func parseOutput(output gjson.Result) []provider.ArtifactData {
	var items []gjson.Result
	if output.IsArray() {
		items = output.Array()
	} else if output.Exists() {
		items = []gjson.Result{output}
	}

	artifacts := make([]provider.ArtifactData, 0, len(items))
	for _, item := range items {
		raw, contentType := item.String(), ""
		if item.IsObject() {
			raw, contentType = item.Get("url").String(), item.Get("content_type").String()
		}
		if raw == "" {
			continue
		}
		data, ct, isDataURI, err := provider.DecodeDataURI(raw)
		if err != nil {
			continue
		}
		if isDataURI {
			if contentType == "" {
				contentType = ct
			}
			artifacts = append(artifacts, provider.ArtifactData{Data: data, ContentType: contentType})
			continue
		}
		artifacts = append(artifacts, provider.ArtifactData{URL: raw, ContentType: contentType})
	}
	return artifacts
}
