// Package permission answers whether the process may use the camera.
package permission

// Permissions is the platform permission capability.
type Permissions interface {
	HasPermission() bool
	// RequestPermission asks for camera access and reports the outcome through cb.
	// A refusal is reported as granted=false with a nil error; err is set only
	// when the request itself could not be made.
	RequestPermission(cb func(granted bool, err error))
}

// Static always answers with Granted.
type Static struct {
	Granted bool
}

func (s Static) HasPermission() bool {
	return s.Granted
}

func (s Static) RequestPermission(cb func(granted bool, err error)) {
	cb(s.Granted, nil)
}
