// Package azure implements the provider interfaces against an Azure Spatial
// Anchors style REST service using the Azure SDK pipeline.
package azure

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/spatialkit/anchorsession/provider"
	"github.com/spatialkit/anchorsession/spatial"
)

const (
	moduleName    = "github.com/spatialkit/anchorsession/provider/azure"
	moduleVersion = "v0.1.0"

	accountKeyHeader = "X-Mrc-Account-Key"
	accountIDHeader  = "X-Mrc-Account-Id"
)

// Provider creates cloud anchoring sessions against the configured account.
type Provider struct {
	pipeline      runtime.Pipeline
	endpoint      string
	accountID     string
	watchInterval time.Duration
	logger        zerolog.Logger
}

// NewProvider builds a provider from settings.
func NewProvider(settings Settings, logger zerolog.Logger) (*Provider, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}
	auth, err := authPolicy(settings)
	if err != nil {
		return nil, err
	}
	pipeline := runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{
		PerRetry: []policy.Policy{auth},
	}, &policy.ClientOptions{})
	return &Provider{
		pipeline:      pipeline,
		endpoint:      settings.Endpoint,
		accountID:     settings.AccountID,
		watchInterval: settings.watchInterval(),
		logger:        logger.With().Str("component", "azure_provider").Logger(),
	}, nil
}

func authPolicy(settings Settings) (policy.Policy, error) {
	if settings.AccountKey != "" {
		return runtime.NewKeyCredentialPolicy(azcore.NewKeyCredential(settings.AccountKey), accountKeyHeader, nil), nil
	}
	if settings.ClientSecret != "" {
		cred, err := azidentity.NewClientSecretCredential(settings.TenantID, settings.ClientID, settings.ClientSecret, nil)
		if err != nil {
			return nil, fmt.Errorf("azure: service principal credential: %w", err)
		}
		return runtime.NewBearerTokenPolicy(cred, []string{settings.scope()}, nil), nil
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azure: default credential: %w", err)
	}
	return runtime.NewBearerTokenPolicy(cred, []string{settings.scope()}, nil), nil
}

type sessionResponse struct {
	SessionID string `json:"sessionId"`
}

type poseWire struct {
	Position spatial.Vector3    `json:"position"`
	Rotation spatial.Quaternion `json:"rotation"`
}

type anchorRequest struct {
	AnchorID   string    `json:"anchorId"`
	Pose       poseWire  `json:"pose"`
	Expiration time.Time `json:"expiration,omitempty"`
}

type anchorResponse struct {
	AnchorID   string    `json:"anchorId"`
	Pose       poseWire  `json:"pose"`
	Expiration time.Time `json:"expiration"`
}

type readinessResponse struct {
	Ready    bool    `json:"ready"`
	Progress float64 `json:"recommendedProgress"`
}

type queryRequest struct {
	IDs []string `json:"anchorIds"`
}

type queryResponse struct {
	Results []queryResult `json:"results"`
}

type queryResult struct {
	AnchorID   string    `json:"anchorId"`
	Found      bool      `json:"found"`
	Pose       poseWire  `json:"pose"`
	Expiration time.Time `json:"expiration"`
}

// CreateSession opens a new provider session.
func (p *Provider) CreateSession(ctx context.Context) (provider.Session, error) {
	var out sessionResponse
	err := p.do(ctx, http.MethodPost, p.url("sessions"), nil, &out, http.StatusOK, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	if out.SessionID == "" {
		return nil, fmt.Errorf("azure: session response missing sessionId")
	}
	p.logger.Debug().Str("session", out.SessionID).Msg("session created")
	return &session{provider: p, id: out.SessionID}, nil
}

func (p *Provider) url(parts ...string) string {
	return runtime.JoinPaths(p.endpoint, parts...)
}

// do runs a single pipeline request, decoding a JSON payload into out when
// out is non-nil.
func (p *Provider) do(ctx context.Context, method, url string, body, out interface{}, okCodes ...int) error {
	req, err := runtime.NewRequest(ctx, method, url)
	if err != nil {
		return fmt.Errorf("azure: build request: %w", err)
	}
	req.Raw().Header.Set(accountIDHeader, p.accountID)
	if body != nil {
		if err := runtime.MarshalAsJSON(req, body); err != nil {
			return fmt.Errorf("azure: encode request: %w", err)
		}
	}
	resp, err := p.pipeline.Do(req)
	if err != nil {
		return fmt.Errorf("azure: %s %s: %w", method, url, err)
	}
	if !runtime.HasStatusCode(resp, okCodes...) {
		return runtime.NewResponseError(resp)
	}
	if out != nil {
		if err := runtime.UnmarshalAsJSON(resp, out); err != nil {
			return fmt.Errorf("azure: decode response: %w", err)
		}
	}
	return nil
}

type session struct {
	provider *Provider
	id       string
}

func (s *session) url(parts ...string) string {
	return s.provider.url(append([]string{"sessions", s.id}, parts...)...)
}

func (s *session) Start(ctx context.Context) error {
	return s.provider.do(ctx, http.MethodPost, s.url("start"), nil, nil, http.StatusOK, http.StatusNoContent)
}

func (s *session) Stop(ctx context.Context) error {
	return s.provider.do(ctx, http.MethodPost, s.url("stop"), nil, nil, http.StatusOK, http.StatusNoContent)
}

func (s *session) Reset(ctx context.Context) error {
	return s.provider.do(ctx, http.MethodPost, s.url("reset"), nil, nil, http.StatusOK, http.StatusNoContent)
}

func (s *session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.provider.do(ctx, http.MethodDelete, s.url(), nil, nil, http.StatusOK, http.StatusNoContent, http.StatusNotFound)
}

func (s *session) CreateReadiness(ctx context.Context) (provider.Readiness, error) {
	var out readinessResponse
	if err := s.provider.do(ctx, http.MethodGet, s.url("readiness"), nil, &out, http.StatusOK); err != nil {
		return provider.Readiness{}, err
	}
	return provider.Readiness{Ready: out.Ready, Progress: out.Progress}, nil
}

func (s *session) CreateAnchor(ctx context.Context, pose spatial.Pose, expiration time.Time) (provider.Anchor, error) {
	body := anchorRequest{
		AnchorID:   uuid.NewString(),
		Pose:       poseWire{Position: pose.Position, Rotation: pose.Rotation},
		Expiration: expiration,
	}
	var out anchorResponse
	err := s.provider.do(ctx, http.MethodPut, s.url("anchors", body.AnchorID), body, &out,
		http.StatusOK, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	id := out.AnchorID
	if id == "" {
		id = body.AnchorID
	}
	if err := uuid.Validate(id); err != nil {
		return nil, fmt.Errorf("azure: anchor response carries invalid id %q: %w", id, err)
	}
	return &cloudAnchor{
		id:         id,
		pose:       spatial.Pose{Position: out.Pose.Position, Rotation: out.Pose.Rotation},
		expiration: out.Expiration,
	}, nil
}

func (s *session) DeleteAnchor(ctx context.Context, anchor provider.Anchor) error {
	if anchor == nil {
		return nil
	}
	return s.provider.do(ctx, http.MethodDelete, s.url("anchors", anchor.ID()), nil, nil,
		http.StatusOK, http.StatusNoContent)
}

// Watch polls the query endpoint and reports each requested identifier at
// most once. Stop blocks until the poll loop and any in-flight callback have
// returned.
func (s *session) Watch(ids []string, fn provider.LocateFunc) (provider.Watcher, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("azure: watch requires at least one id")
	}
	if fn == nil {
		return nil, fmt.Errorf("azure: watch requires a locate callback")
	}
	w := &watcher{
		session:  s,
		ids:      append([]string(nil), ids...),
		fn:       fn,
		interval: s.provider.watchInterval,
		stop:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

func poseFromWire(w poseWire) spatial.Pose {
	return spatial.Pose{Position: w.Position, Rotation: w.Rotation}
}

type cloudAnchor struct {
	id         string
	pose       spatial.Pose
	expiration time.Time
}

func (a *cloudAnchor) ID() string            { return a.id }
func (a *cloudAnchor) Pose() spatial.Pose    { return a.pose }
func (a *cloudAnchor) Expiration() time.Time { return a.expiration }
