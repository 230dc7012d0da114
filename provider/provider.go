package provider

import (
	"context"
	"time"

	"github.com/spatialkit/anchorsession/spatial"
)

// Provider creates cloud anchoring sessions against a concrete backend.
type Provider interface {
	CreateSession(ctx context.Context) (Session, error)
}

// Anchor is a provider-side handle for a persisted cloud anchor.
type Anchor interface {
	ID() string
	Pose() spatial.Pose
	Expiration() time.Time
}

// Readiness reports whether the session has gathered enough environment data
// to commit an anchor creation. Progress is in the range [0,1].
type Readiness struct {
	Ready    bool
	Progress float64
}

// LocateFunc receives located anchors from an active watcher. The anchor is
// nil when the backend reported the identifier without a payload.
type LocateFunc func(id string, anchor Anchor)

// Watcher is an active locate subscription. Stop must not return before the
// watcher has ceased invoking its LocateFunc.
type Watcher interface {
	Stop()
}

// Session is the provider-side conversation state. All create, locate and
// delete operations require a started session.
//
// Implementations are expected to be safe for use from a single goroutine at
// a time; the session manager serialises access.
type Session interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Reset(ctx context.Context) error
	Close() error

	CreateReadiness(ctx context.Context) (Readiness, error)
	CreateAnchor(ctx context.Context, pose spatial.Pose, expiration time.Time) (Anchor, error)
	DeleteAnchor(ctx context.Context, anchor Anchor) error

	Watch(ids []string, fn LocateFunc) (Watcher, error)
}
