package session

import (
	"context"
	"fmt"

	"qr-shutter-pi/pkg/types"
	imgutil "qr-shutter-pi/pkg/utils/image"
)

// AnalyzeOnce decodes the symbols of an encoded image, independent of any
// session. Only one request may be pending; others fail with ErrAnalyzerBusy.
//
// When ctx is done AnalyzeOnce returns early, but the slot stays taken until
// the detector returns.
func (c *Controller) AnalyzeOnce(ctx context.Context, data []byte) ([]types.DetectedSymbol, error) {
	c.mu.Lock()
	if c.analyzing {
		c.mu.Unlock()
		analyzerRequests.WithLabelValues("busy").Inc()
		return nil, ErrAnalyzerBusy
	}
	c.analyzing = true
	c.mu.Unlock()

	type result struct {
		symbols []types.DetectedSymbol
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		var res result
		img, err := imgutil.Decode(data)
		if err == nil {
			res.symbols, res.err = c.detect(ctx, img, nil)
		} else {
			res.err = err
		}

		c.mu.Lock()
		c.analyzing = false
		c.mu.Unlock()
		ch <- res
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			analyzerRequests.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("%w: %w", ErrDetectorError, res.err)
		}
		analyzerRequests.WithLabelValues("ok").Inc()
		if res.symbols == nil {
			res.symbols = []types.DetectedSymbol{}
		}
		return res.symbols, nil
	case <-ctx.Done():
		analyzerRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrDetectorError, ctx.Err())
	}
}

// Analyzing reports whether a single-shot request is pending.
func (c *Controller) Analyzing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.analyzing
}
