package spatial

import "time"

// Vector3 is a position in the device's world coordinate space, in metres.
type Vector3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Quaternion is an orientation component of a pose.
type Quaternion struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
	W float64 `json:"w" yaml:"w"`
}

// IdentityRotation returns the neutral orientation.
func IdentityRotation() Quaternion {
	return Quaternion{W: 1}
}

// Pose combines a position and an orientation.
type Pose struct {
	Position Vector3    `json:"position" yaml:"position"`
	Rotation Quaternion `json:"rotation" yaml:"rotation"`
}

// IdentityPose returns a pose at the origin with neutral orientation.
func IdentityPose() Pose {
	return Pose{Rotation: IdentityRotation()}
}

// AnchorRecord is a cached cloud anchor. Cloud holds the provider-side handle
// and is nil for placeholder records that were located without a payload.
type AnchorRecord struct {
	ID          string
	Pose        Pose
	Cloud       any
	Expiration  time.Time
	Placeholder bool
}

// ExpiresIn reports the remaining lifetime of the record relative to now.
// Records without an expiration report zero.
func (r AnchorRecord) ExpiresIn(now time.Time) time.Duration {
	if r.Expiration.IsZero() {
		return 0
	}
	return r.Expiration.Sub(now)
}
