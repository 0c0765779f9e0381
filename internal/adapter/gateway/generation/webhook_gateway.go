package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/YoshitsuguKoike/odoogen/internal/app"
	"github.com/YoshitsuguKoike/odoogen/internal/application/port/output"
)

// Webhook paths of the remote workflow service
const (
	PathSpecification         = "/webhook/specification-agent"
	PathSpecificationFeedback = "/webhook/specification-feedback"
	PathDevelopmentPlan       = "/webhook/development-plan"
	PathPlanFeedback          = "/webhook/development-plan-feedback"
	PathCoding                = "/webhook/coding-agent"
	PathCodingStatus          = "/webhook/coding-status"
	PathTesting               = "/webhook/testing-agent"
)

const (
	headerAPIKey    = "X-N8N-API-KEY"
	headerRequestID = "X-Request-ID"
	maxErrorBody    = 200
)

// WebhookConfig configures the webhook gateway
type WebhookConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration // per request, 0 keeps only the caller's deadline
	TestTimeout time.Duration // per test run
}

// WebhookGateway implements GenerationGateway by POSTing JSON to the
// workflow service's webhooks
type WebhookGateway struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	timeout     time.Duration
	testTimeout time.Duration
}

var _ output.GenerationGateway = (*WebhookGateway)(nil)

// NewWebhookGateway creates a new webhook gateway
func NewWebhookGateway(cfg WebhookConfig, httpClient *http.Client) *WebhookGateway {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &WebhookGateway{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		httpClient:  httpClient,
		timeout:     cfg.Timeout,
		testTimeout: cfg.TestTimeout,
	}
}

// modulePayload is the module context sent with every request
type modulePayload struct {
	SessionID     string   `json:"sessionId"`
	ModuleName    string   `json:"moduleName"`
	ModuleVersion string   `json:"moduleVersion"`
	OdooVersion   string   `json:"odooVersion"`
	OdooEdition   string   `json:"odooEdition"`
	Author        string   `json:"author,omitempty"`
	License       string   `json:"license,omitempty"`
	Depends       []string `json:"depends,omitempty"`
}

func newModulePayload(rc output.RequestContext) modulePayload {
	return modulePayload{
		SessionID:     rc.SessionID.String(),
		ModuleName:    rc.Module.ModuleName,
		ModuleVersion: rc.Module.ModuleVersion,
		OdooVersion:   rc.Module.OdooVersion,
		OdooEdition:   rc.Module.OdooEdition,
		Author:        rc.Module.Author,
		License:       rc.Module.License,
		Depends:       rc.Module.Depends,
	}
}

type specificationPayload struct {
	modulePayload
	Requirements string `json:"requirements"`
}

type feedbackPayload struct {
	modulePayload
	ID       string `json:"id,omitempty"`
	Feedback string `json:"feedback"`
	Current  string `json:"current"`
}

type planPayload struct {
	modulePayload
	Specification string `json:"specification"`
}

type codingPayload struct {
	modulePayload
	DevelopmentPlan string `json:"developmentPlan"`
	Feedback        string `json:"feedback,omitempty"`
	Current         string `json:"current,omitempty"`
}

type statusPayload struct {
	GenerationID string `json:"generationId"`
}

type testingPayload struct {
	modulePayload
	GenerationID string `json:"generationId"`
	ModuleOutput string `json:"moduleOutput"`
	Timestamp    string `json:"timestamp"`
}

// webhookResponse is the common envelope returned by every webhook
type webhookResponse struct {
	Status       string            `json:"status"`
	Message      string            `json:"message,omitempty"`
	Content      string            `json:"content,omitempty"`
	ID           string            `json:"id,omitempty"`
	GenerationID string            `json:"generationId,omitempty"`
	Passed       int               `json:"passed,omitempty"`
	Failed       int               `json:"failed,omitempty"`
	Success      *bool             `json:"success,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// GenerateSpecification calls the specification agent
func (g *WebhookGateway) GenerateSpecification(ctx context.Context, req output.SpecificationRequest) (*output.GeneratedContent, error) {
	payload := specificationPayload{modulePayload: newModulePayload(req.RequestContext), Requirements: req.Requirements}
	resp, err := g.post(ctx, "generate specification", PathSpecification, req.RequestID, payload, g.timeout)
	if err != nil {
		return nil, err
	}
	return contentOf("generate specification", resp)
}

// ReviseSpecification calls the specification feedback webhook
func (g *WebhookGateway) ReviseSpecification(ctx context.Context, req output.RevisionRequest) (*output.GeneratedContent, error) {
	return g.revise(ctx, "revise specification", PathSpecificationFeedback, req)
}

// GenerateDevelopmentPlan calls the development plan agent
func (g *WebhookGateway) GenerateDevelopmentPlan(ctx context.Context, req output.DevelopmentPlanRequest) (*output.GeneratedContent, error) {
	payload := planPayload{modulePayload: newModulePayload(req.RequestContext), Specification: req.Specification}
	resp, err := g.post(ctx, "generate development plan", PathDevelopmentPlan, req.RequestID, payload, g.timeout)
	if err != nil {
		return nil, err
	}
	return contentOf("generate development plan", resp)
}

// ReviseDevelopmentPlan calls the development plan feedback webhook
func (g *WebhookGateway) ReviseDevelopmentPlan(ctx context.Context, req output.RevisionRequest) (*output.GeneratedContent, error) {
	return g.revise(ctx, "revise development plan", PathPlanFeedback, req)
}

func (g *WebhookGateway) revise(ctx context.Context, op, path string, req output.RevisionRequest) (*output.GeneratedContent, error) {
	payload := feedbackPayload{
		modulePayload: newModulePayload(req.RequestContext),
		ID:            req.RemoteID,
		Feedback:      req.Feedback,
		Current:       req.CurrentContent,
	}
	resp, err := g.post(ctx, op, path, req.RequestID, payload, g.timeout)
	if err != nil {
		return nil, err
	}
	return contentOf(op, resp)
}

// GenerateModule starts code generation and returns the generation id
func (g *WebhookGateway) GenerateModule(ctx context.Context, req output.ModuleRequest) (output.GenerationHandle, error) {
	const op = "generate module"
	payload := codingPayload{
		modulePayload:   newModulePayload(req.RequestContext),
		DevelopmentPlan: req.DevelopmentPlan,
		Feedback:        req.Feedback,
		Current:         req.CurrentContent,
	}
	resp, err := g.post(ctx, op, PathCoding, req.RequestID, payload, g.timeout)
	if err != nil {
		return "", err
	}
	if resp.GenerationID == "" {
		return "", &output.GatewayError{Operation: op, Message: "response has no generationId"}
	}
	return output.GenerationHandle(resp.GenerationID), nil
}

// PollGenerationStatus asks the coding status webhook for progress
func (g *WebhookGateway) PollGenerationStatus(ctx context.Context, handle output.GenerationHandle) (*output.GenerationStatusReport, error) {
	const op = "poll generation status"
	resp, err := g.post(ctx, op, PathCodingStatus, uuid.NewString(), statusPayload{GenerationID: string(handle)}, g.timeout)
	if err != nil {
		return nil, err
	}

	report := &output.GenerationStatusReport{Content: resp.Content, Message: resp.Message, Metadata: resp.Metadata}
	switch resp.Status {
	case "completed", "success":
		report.Status = output.GenerationCompleted
	case "failed":
		report.Status = output.GenerationFailed
	case "pending", "in-progress", "in_progress", "running":
		report.Status = output.GenerationPending
	default:
		return nil, &output.GatewayError{Operation: op, Message: fmt.Sprintf("unknown generation status %q", resp.Status)}
	}
	return report, nil
}

// RunAutomatedTests calls the testing agent with the longer test timeout
func (g *WebhookGateway) RunAutomatedTests(ctx context.Context, req output.TestRequest) (*output.TestResults, error) {
	const op = "run automated tests"
	payload := testingPayload{
		modulePayload: newModulePayload(req.RequestContext),
		GenerationID:  string(req.Handle),
		ModuleOutput:  req.ModuleOutput,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	resp, err := g.post(ctx, op, PathTesting, req.RequestID, payload, g.testTimeout)
	if err != nil {
		return nil, err
	}

	results := &output.TestResults{Content: resp.Content, Passed: resp.Passed, Failed: resp.Failed}
	if resp.Success != nil {
		results.Success = *resp.Success
	} else {
		results.Success = resp.Failed == 0
	}
	if results.Content == "" {
		results.Content = resp.Message
	}
	return results, nil
}

// post sends one webhook request and decodes the envelope.
// Transport failures and 5xx answers are retryable.
func (g *WebhookGateway) post(ctx context.Context, op, path, requestID string, payload interface{}, timeout time.Duration) (*webhookResponse, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", op, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(headerRequestID, requestID)
	if g.apiKey != "" {
		httpReq.Header.Set(headerAPIKey, g.apiKey)
	}

	app.GetLogger().Debug("webhook %s request_id=%s", path, requestID)
	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, &output.GatewayError{
			Operation: op,
			Retryable: true,
			Timeout:   errors.Is(err, context.DeadlineExceeded),
			Err:       err,
		}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &output.GatewayError{Operation: op, StatusCode: httpResp.StatusCode, Retryable: true, Err: err}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &output.GatewayError{
			Operation:  op,
			StatusCode: httpResp.StatusCode,
			Message:    truncate(string(raw), maxErrorBody),
			Retryable:  httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests,
			Timeout:    httpResp.StatusCode == http.StatusGatewayTimeout,
		}
	}

	var resp webhookResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &output.GatewayError{Operation: op, StatusCode: httpResp.StatusCode, Message: "invalid JSON response", Err: err}
	}
	if resp.Status == "error" {
		return nil, &output.GatewayError{Operation: op, StatusCode: httpResp.StatusCode, Message: resp.Message}
	}
	return &resp, nil
}

func contentOf(op string, resp *webhookResponse) (*output.GeneratedContent, error) {
	if strings.TrimSpace(resp.Content) == "" {
		return nil, &output.GatewayError{Operation: op, Message: "response has no content"}
	}
	return &output.GeneratedContent{Content: resp.Content, RemoteID: resp.ID, Metadata: resp.Metadata}, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
