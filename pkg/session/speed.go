package session

import (
	"time"

	"golang.org/x/time/rate"

	"qr-shutter-pi/pkg/types"
)

const (
	DefaultDetectionInterval = 250 * time.Millisecond
	DefaultDuplicateWindow   = 5 * time.Second
	DefaultStartTimeout      = 5 * time.Second
)

// policy decides which detection results become events. It is only used
// from the session's frame loop.
type policy struct {
	speed   types.DetectionSpeed
	limiter *rate.Limiter
	window  time.Duration
	seen    map[string]time.Time
	pruned  time.Time

	// held is the most recent result that arrived while Normal was throttled.
	held      []types.DetectedSymbol
	heldFrame *types.Frame
}

func newPolicy(cfg types.CameraConfig) *policy {
	p := &policy{speed: cfg.Speed}
	switch cfg.Speed {
	case types.Normal:
		p.limiter = rate.NewLimiter(rate.Every(cfg.DetectionInterval), 1)
	case types.NoDuplicates:
		p.window = cfg.DuplicateWindow
		p.seen = make(map[string]time.Time)
	}
	return p
}

// admit returns the symbols that may be emitted at now, or nil. frame is the
// image the symbols were found in, nil when images are not returned; the
// returned frame belongs to the returned symbols.
//
// Under Normal a result that arrives inside the interval is held, replacing
// any older held result, and is released by the first frame after the
// interval unless that frame has a newer result.
func (p *policy) admit(now time.Time, symbols []types.DetectedSymbol, frame *types.Frame) ([]types.DetectedSymbol, *types.Frame) {
	switch p.speed {
	case types.Normal:
		out, img := symbols, frame
		if len(out) == 0 {
			out, img = p.held, p.heldFrame
		}
		if len(out) == 0 {
			return nil, nil
		}
		if !p.limiter.AllowN(now, 1) {
			if len(symbols) > 0 {
				p.hold(symbols, frame)
			}
			return nil, nil
		}
		p.held, p.heldFrame = nil, nil
		return out, img
	case types.NoDuplicates:
		p.prune(now)
		var out []types.DetectedSymbol
		for _, s := range symbols {
			if last, ok := p.seen[s.RawValue]; ok && now.Sub(last) < p.window {
				continue
			}
			p.seen[s.RawValue] = now
			out = append(out, s)
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out, frame
	default:
		if len(symbols) == 0 {
			return nil, nil
		}
		return symbols, frame
	}
}

// hold keeps symbols for the end of the interval. The frame buffer goes back
// to the device, so its bytes are copied.
func (p *policy) hold(symbols []types.DetectedSymbol, frame *types.Frame) {
	p.held = symbols
	p.heldFrame = nil
	if frame != nil {
		f := *frame
		f.Data = append([]byte(nil), frame.Data...)
		p.heldFrame = &f
	}
}

// prune drops expired values, at most once per window.
func (p *policy) prune(now time.Time) {
	if now.Sub(p.pruned) < p.window {
		return
	}
	for v, t := range p.seen {
		if now.Sub(t) >= p.window {
			delete(p.seen, v)
		}
	}
	p.pruned = now
}
