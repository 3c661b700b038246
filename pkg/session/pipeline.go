package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"qr-shutter-pi/pkg/camera"
	"qr-shutter-pi/pkg/sink"
	"qr-shutter-pi/pkg/types"
	imgutil "qr-shutter-pi/pkg/utils/image"
)

// loop consumes the device's events for one run. It is the only goroutine
// that publishes for r, so events reach the sink in hardware order.
func (c *Controller) loop(r *run) {
	defer close(r.done)

	events := r.dev.Events()
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				c.fail(r, camera.NewError(camera.KindClosed, "events", errors.New("event stream closed")))
				return
			}
			switch ev.Kind {
			case camera.EventFrame:
				if ev.Frame != nil {
					c.processFrame(r, ev.Frame)
				}
			case camera.EventTorch:
				c.emit(r, sink.TorchState(ev.Torch))
			case camera.EventZoom:
				c.emit(r, sink.ZoomState(ev.Zoom))
			case camera.EventError:
				c.fail(r, ev.Err)
				return
			}
		}
	}
}

func (c *Controller) processFrame(r *run, f *camera.Frame) {
	defer f.Release()
	r.firstOnce.Do(func() { close(r.first) })

	if r.ctx.Err() != nil {
		framesTotal.WithLabelValues("discarded").Inc()
		return
	}

	// window 在 SetScanWindow 中已复制，这里只读指针
	c.mu.Lock()
	window := c.window
	c.mu.Unlock()

	symbols, err := c.analyze(r.ctx, f.Frame, window, r.cfg.Formats)
	if err != nil {
		framesTotal.WithLabelValues("error").Inc()
		if r.ctx.Err() == nil {
			c.logger.Warnf("analyze frame: %s", err)
		}
		return
	}
	framesTotal.WithLabelValues("analyzed").Inc()

	var img *types.Frame
	if r.cfg.ReturnImage {
		img = &f.Frame
	}
	// an empty result still goes through the policy, it may release a held one
	out, img := r.policy.admit(c.now(), symbols, img)
	if len(out) == 0 {
		if len(symbols) > 0 {
			framesTotal.WithLabelValues("suppressed").Inc()
		}
		return
	}
	c.emit(r, sink.Barcode(out, img))
}

// analyze decodes one frame, restricted to window when set. Bounding boxes are
// returned in frame coordinates.
func (c *Controller) analyze(ctx context.Context, f types.Frame, window *types.ScanWindow, formats []types.Format) ([]types.DetectedSymbol, error) {
	img, err := imgutil.DecodeFrame(f)
	if err != nil {
		return nil, err
	}

	var offset image.Point
	if window != nil {
		b := img.Bounds()
		rect := window.Rect(b.Dx(), b.Dy()).Add(b.Min)
		if rect.Empty() {
			return nil, nil
		}
		img = imgutil.Crop(img, rect)
		offset = rect.Min
	}

	symbols, err := c.detect(ctx, img, formats)
	if err != nil {
		return nil, err
	}
	for i := range symbols {
		symbols[i].BoundingBox = symbols[i].BoundingBox.Add(offset)
	}

	return symbols, nil
}

// detect runs the detector, turning a panic into an error.
func (c *Controller) detect(ctx context.Context, img image.Image, formats []types.Format) (symbols []types.DetectedSymbol, err error) {
	start := time.Now()
	defer func() {
		detectDuration.Observe(time.Since(start).Seconds())
		if p := recover(); p != nil {
			symbols, err = nil, fmt.Errorf("detector panic: %v", p)
		}
	}()

	return c.detector.Detect(ctx, img, formats)
}

// emit publishes ev if r is still the live session.
func (c *Controller) emit(r *run, ev sink.Event) bool {
	c.mu.Lock()
	s := c.state()
	live := c.cur == r && (s == Starting || s == Running)
	c.mu.Unlock()
	if !live {
		return false
	}

	eventsTotal.WithLabelValues(string(ev.Name)).Inc()
	c.sink.Publish(ev)
	return true
}

// fail handles a fatal device error: the session moves to Failed and drops
// its config, an error event is published and the device is released.
func (c *Controller) fail(r *run, err error) {
	r.failErr = err
	c.mu.Lock()
	live := c.cur == r && c.machine.Can(evFail)
	if live {
		c.transition(evFail)
		c.cfg = nil
	}
	c.mu.Unlock()

	if live {
		c.logger.Errorf("session %s failed: %s", r.id, err)
		eventsTotal.WithLabelValues(string(sink.NameError)).Inc()
		c.sink.Publish(sink.Error(err.Error()))
	}

	r.cancel()
	if err := r.release(); err != nil {
		c.logger.Warnf("release camera: %s", err)
	}
}
