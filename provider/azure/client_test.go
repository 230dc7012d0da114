package azure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/spatialkit/anchorsession/provider"
	"github.com/spatialkit/anchorsession/spatial"
)

type anchorService struct {
	mu             sync.Mutex
	lastAccountID  string
	lastAccountKey string
	readinessCalls int
	anchors        map[string]anchorRequest
	deleted        []string
	located        map[string]queryResult
}

func newAnchorService(t *testing.T) (*anchorService, *httptest.Server) {
	t.Helper()

	svc := &anchorService{
		anchors: make(map[string]anchorRequest),
		located: make(map[string]queryResult),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		svc.record(r)
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{SessionID: "sess-1"})
	})
	mux.HandleFunc("/sessions/sess-1", func(w http.ResponseWriter, r *http.Request) {
		svc.record(r)
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	for _, action := range []string{"start", "stop", "reset"} {
		mux.HandleFunc("/sessions/sess-1/"+action, func(w http.ResponseWriter, r *http.Request) {
			svc.record(r)
			w.WriteHeader(http.StatusNoContent)
		})
	}
	mux.HandleFunc("/sessions/sess-1/readiness", func(w http.ResponseWriter, r *http.Request) {
		svc.record(r)
		svc.mu.Lock()
		svc.readinessCalls++
		calls := svc.readinessCalls
		svc.mu.Unlock()
		if calls < 2 {
			writeJSON(w, http.StatusOK, readinessResponse{Ready: false, Progress: 0.4})
			return
		}
		writeJSON(w, http.StatusOK, readinessResponse{Ready: true, Progress: 1})
	})
	mux.HandleFunc("/sessions/sess-1/anchors/", func(w http.ResponseWriter, r *http.Request) {
		svc.record(r)
		id := r.URL.Path[len("/sessions/sess-1/anchors/"):]
		switch r.Method {
		case http.MethodPut:
			var body anchorRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			svc.mu.Lock()
			svc.anchors[id] = body
			svc.mu.Unlock()
			writeJSON(w, http.StatusCreated, anchorResponse{
				AnchorID:   body.AnchorID,
				Pose:       body.Pose,
				Expiration: body.Expiration,
			})
		case http.MethodDelete:
			svc.mu.Lock()
			delete(svc.anchors, id)
			svc.deleted = append(svc.deleted, id)
			svc.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/sessions/sess-1/query", func(w http.ResponseWriter, r *http.Request) {
		svc.record(r)
		var body queryRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		out := queryResponse{}
		svc.mu.Lock()
		for _, id := range body.IDs {
			if result, ok := svc.located[id]; ok {
				out.Results = append(out.Results, result)
			}
		}
		svc.mu.Unlock()
		writeJSON(w, http.StatusOK, out)
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return svc, ts
}

func (s *anchorService) record(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccountID = r.Header.Get(accountIDHeader)
	s.lastAccountKey = r.Header.Get(accountKeyHeader)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// newTestProvider wires the pipeline by hand so the plain HTTP test server is
// accepted; production auth policies require TLS endpoints.
func newTestProvider(t *testing.T, ts *httptest.Server) *Provider {
	t.Helper()

	auth := runtime.NewKeyCredentialPolicy(azcore.NewKeyCredential("test-key"), accountKeyHeader,
		&runtime.KeyCredentialPolicyOptions{InsecureAllowCredentialWithHTTP: true})
	pipeline := runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{
		PerRetry: []policy.Policy{auth},
	}, &policy.ClientOptions{})
	return &Provider{
		pipeline:      pipeline,
		endpoint:      ts.URL,
		accountID:     "acc-1",
		watchInterval: 10 * time.Millisecond,
		logger:        zerolog.Nop(),
	}
}

func TestProviderSessionLifecycle(t *testing.T) {
	svc, ts := newAnchorService(t)
	p := newTestProvider(t, ts)
	ctx := context.Background()

	sess, err := p.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Start(ctx))
	require.NoError(t, sess.Stop(ctx))
	require.NoError(t, sess.Reset(ctx))
	require.NoError(t, sess.Close())

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Equal(t, "acc-1", svc.lastAccountID)
	require.Equal(t, "test-key", svc.lastAccountKey)
}

func TestProviderReadinessProgress(t *testing.T) {
	_, ts := newAnchorService(t)
	p := newTestProvider(t, ts)
	ctx := context.Background()

	sess, err := p.CreateSession(ctx)
	require.NoError(t, err)

	ready, err := sess.CreateReadiness(ctx)
	require.NoError(t, err)
	require.False(t, ready.Ready)
	require.InDelta(t, 0.4, ready.Progress, 0.001)

	ready, err = sess.CreateReadiness(ctx)
	require.NoError(t, err)
	require.True(t, ready.Ready)
}

func TestProviderCreateAndDeleteAnchor(t *testing.T) {
	svc, ts := newAnchorService(t)
	p := newTestProvider(t, ts)
	ctx := context.Background()

	sess, err := p.CreateSession(ctx)
	require.NoError(t, err)

	pose := spatial.Pose{
		Position: spatial.Vector3{X: 1, Y: 2, Z: 3},
		Rotation: spatial.IdentityRotation(),
	}
	expiration := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	anchor, err := sess.CreateAnchor(ctx, pose, expiration)
	require.NoError(t, err)
	require.NoError(t, uuid.Validate(anchor.ID()))
	require.Equal(t, pose, anchor.Pose())
	require.True(t, expiration.Equal(anchor.Expiration()))

	svc.mu.Lock()
	stored, ok := svc.anchors[anchor.ID()]
	svc.mu.Unlock()
	require.True(t, ok)
	require.Equal(t, pose.Position, stored.Pose.Position)

	require.NoError(t, sess.DeleteAnchor(ctx, anchor))
	svc.mu.Lock()
	deleted := append([]string(nil), svc.deleted...)
	svc.mu.Unlock()
	require.Equal(t, []string{anchor.ID()}, deleted)
}

func TestProviderDeleteNilAnchor(t *testing.T) {
	_, ts := newAnchorService(t)
	p := newTestProvider(t, ts)

	sess, err := p.CreateSession(context.Background())
	require.NoError(t, err)
	require.NoError(t, sess.DeleteAnchor(context.Background(), nil))
}

func TestProviderWatchReportsEachAnchorOnce(t *testing.T) {
	svc, ts := newAnchorService(t)
	p := newTestProvider(t, ts)

	sess, err := p.CreateSession(context.Background())
	require.NoError(t, err)

	svc.mu.Lock()
	svc.located["a1"] = queryResult{
		AnchorID:   "a1",
		Found:      true,
		Pose:       poseWire{Position: spatial.Vector3{X: 4}, Rotation: spatial.IdentityRotation()},
		Expiration: time.Now().Add(time.Hour),
	}
	// Found without payload: the service knows the anchor exists but has no
	// pose to report yet.
	svc.located["p1"] = queryResult{AnchorID: "p1", Found: true}
	svc.mu.Unlock()

	var mu sync.Mutex
	seen := make(map[string]provider.Anchor)
	watcher, err := sess.Watch([]string{"a1", "p1"}, func(id string, anchor provider.Anchor) {
		mu.Lock()
		defer mu.Unlock()
		seen[id] = anchor
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, 5*time.Millisecond)

	watcher.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, seen["a1"])
	require.Equal(t, float64(4), seen["a1"].Pose().Position.X)
	require.Nil(t, seen["p1"])
}

func TestProviderWatchValidation(t *testing.T) {
	_, ts := newAnchorService(t)
	p := newTestProvider(t, ts)

	sess, err := p.CreateSession(context.Background())
	require.NoError(t, err)

	_, err = sess.Watch(nil, func(string, provider.Anchor) {})
	require.Error(t, err)
	_, err = sess.Watch([]string{"a1"}, nil)
	require.Error(t, err)
}

func TestProviderWatchStopHaltsCallbacks(t *testing.T) {
	svc, ts := newAnchorService(t)
	p := newTestProvider(t, ts)

	sess, err := p.CreateSession(context.Background())
	require.NoError(t, err)

	var mu sync.Mutex
	var calls int
	// Nothing is locatable yet, so the watcher keeps polling.
	watcher, err := sess.Watch([]string{"a1"}, func(string, provider.Anchor) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	watcher.Stop()

	mu.Lock()
	before := calls
	mu.Unlock()

	svc.mu.Lock()
	svc.located["a1"] = queryResult{AnchorID: "a1", Found: true}
	svc.mu.Unlock()

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, before, calls)

	// Stop is safe to call again.
	watcher.Stop()
}
