package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qr-shutter-pi/pkg/camera"
	"qr-shutter-pi/pkg/camera/fake"
	"qr-shutter-pi/pkg/detector"
	"qr-shutter-pi/pkg/permission"
	"qr-shutter-pi/pkg/sink"
	"qr-shutter-pi/pkg/types"
)

// grayDetector reports one symbol "code-<level>" for a frame whose top-left
// pixel has a non-zero gray level. The bounding box is the whole image.
func grayDetector() detector.Func {
	return func(_ context.Context, img image.Image, _ []types.Format) ([]types.DetectedSymbol, error) {
		b := img.Bounds()
		level := color.GrayModel.Convert(img.At(b.Min.X, b.Min.Y)).(color.Gray).Y
		if level == 0 {
			return nil, nil
		}
		return []types.DetectedSymbol{{
			RawValue:    fmt.Sprintf("code-%d", level),
			Format:      types.FormatQR,
			BoundingBox: b,
		}}, nil
	}
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newController(t *testing.T, det detector.Detector, opts ...Option) (*Controller, *fake.Provider, *sink.Chan) {
	t.Helper()
	p := fake.NewProvider()
	s := sink.NewChan(64)
	if det == nil {
		det = grayDetector()
	}
	c := New(p, det, s, opts...)
	t.Cleanup(func() { _ = c.Stop() })
	return c, p, s
}

func recv(t *testing.T, s *sink.Chan) sink.Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
		return sink.Event{}
	}
}

func assertNoEvent(t *testing.T, s *sink.Chan) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event %s: %v", ev.Name, ev.Data)
	default:
	}
}

func TestStartStop(t *testing.T) {
	c, p, s := newController(t, nil)
	assert.Equal(t, Idle, c.State())
	assert.Nil(t, c.Config())

	info, err := c.Start(context.Background(), types.CameraConfig{Facing: types.FacingBack, Speed: types.Unrestricted})
	require.NoError(t, err)
	assert.Equal(t, Running, c.State())
	assert.Equal(t, 4, info.Width)
	assert.Equal(t, 4, info.Height)
	assert.True(t, info.TorchAvailable)
	assert.NotEmpty(t, info.SessionID)
	assert.Equal(t, int64(1), info.TextureID)

	cfg := c.Config()
	require.NotNil(t, cfg)
	assert.Equal(t, DefaultStartTimeout, cfg.StartTimeout)
	assert.Equal(t, types.FacingBack, p.Last().Request().Facing)

	dev := p.Last()
	require.True(t, dev.SendGray(42))
	ev := recv(t, s)
	assert.Equal(t, sink.NameBarcode, ev.Name)
	require.Len(t, ev.Symbols(), 1)
	assert.Equal(t, "code-42", ev.Symbols()[0].RawValue)
	assert.Nil(t, ev.Image)

	require.NoError(t, c.Stop())
	assert.Equal(t, Idle, c.State())
	assert.Nil(t, c.Config())
	assert.Equal(t, 1, dev.Releases())
	assert.Equal(t, 0, p.OpenNow())

	// frames offered after stop are never delivered
	assert.False(t, dev.SendGray(42))
	assertNoEvent(t, s)

	info, err = c.Start(context.Background(), types.CameraConfig{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.TextureID)
}

func TestStopTwice(t *testing.T) {
	c, p, _ := newController(t, nil)
	_, err := c.Start(context.Background(), types.CameraConfig{})
	require.NoError(t, err)

	require.NoError(t, c.Stop())
	err = c.Stop()
	assert.ErrorIs(t, err, ErrAlreadyStopped)
	assert.Equal(t, KindAlreadyStopped, KindOf(err))
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 1, p.Last().Releases())
	assert.Equal(t, 1, p.Opened())
}

func TestStopIdle(t *testing.T) {
	c, p, _ := newController(t, nil)
	assert.ErrorIs(t, c.Stop(), ErrAlreadyStopped)
	assert.Equal(t, 0, p.Opened())
}

func TestStartTwice(t *testing.T) {
	c, p, s := newController(t, nil)
	first, err := c.Start(context.Background(), types.CameraConfig{Speed: types.Unrestricted})
	require.NoError(t, err)
	dev := p.Last()

	_, err = c.Start(context.Background(), types.CameraConfig{Facing: types.FacingBack})
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Equal(t, Running, c.State())
	assert.Equal(t, 1, p.Opened())
	assert.False(t, dev.Closed())
	assert.Equal(t, types.Unrestricted, c.Config().Speed)

	require.True(t, dev.SendGray(3))
	assert.Equal(t, "code-3", recv(t, s).Symbols()[0].RawValue)
	assert.Equal(t, int64(1), first.TextureID)
}

func TestNeverTwoOpenDevices(t *testing.T) {
	c, p, _ := newController(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if (i+j)%2 == 0 {
					_, err := c.Start(context.Background(), types.CameraConfig{})
					// a concurrent stop may cancel the start
					if err != nil && !errors.Is(err, ErrAlreadyStarted) {
						assert.ErrorIs(t, err, ErrCameraError)
					}
				} else {
					err := c.Stop()
					if err != nil {
						assert.ErrorIs(t, err, ErrAlreadyStopped)
					}
				}
			}
		}(i)
	}
	wg.Wait()
	_ = c.Stop()

	assert.Equal(t, 1, p.MaxOpen())
	assert.Equal(t, 0, p.OpenNow())
	assert.Equal(t, Idle, c.State())
}

func TestStartNoCamera(t *testing.T) {
	c, p, _ := newController(t, nil)
	p.OpenErr = camera.NewError(camera.KindNoCamera, "open", errors.New("no /dev/video1"))

	_, err := c.Start(context.Background(), types.CameraConfig{Facing: types.FacingBack})
	assert.ErrorIs(t, err, ErrNoCamera)
	assert.Equal(t, KindNoCamera, KindOf(err))
	assert.Equal(t, Failed, c.State())

	// a failed session can be started again
	p.OpenErr = nil
	_, err = c.Start(context.Background(), types.CameraConfig{})
	require.NoError(t, err)
	assert.Equal(t, Running, c.State())
}

func TestStartDeviceError(t *testing.T) {
	c, p, _ := newController(t, nil)
	p.StartErr = errors.New("VIDIOC_STREAMON: device busy")

	_, err := c.Start(context.Background(), types.CameraConfig{})
	assert.ErrorIs(t, err, ErrCameraError)
	assert.Equal(t, Failed, c.State())
	assert.Equal(t, 1, p.Last().Releases())
	assert.Equal(t, 0, p.OpenNow())

	require.NoError(t, c.Stop())
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 1, p.Last().Releases())
}

func TestStartPermissionDenied(t *testing.T) {
	c, p, _ := newController(t, nil, WithPermissions(permission.Static{Granted: false}))

	_, err := c.Start(context.Background(), types.CameraConfig{})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 0, p.Opened())
}

func TestStartTimeout(t *testing.T) {
	c, p, _ := newController(t, nil)
	p.ManualFirstFrame = true

	_, err := c.Start(context.Background(), types.CameraConfig{StartTimeout: 50 * time.Millisecond})
	assert.ErrorIs(t, err, ErrCameraError)
	assert.Equal(t, Failed, c.State())
	assert.Equal(t, 1, p.Last().Releases())
}

func TestStartCallerCancelled(t *testing.T) {
	c, p, _ := newController(t, nil)
	p.ManualFirstFrame = true

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Start(ctx, types.CameraConfig{})
	assert.ErrorIs(t, err, ErrCameraError)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Failed, c.State())
}

func TestStopCancelsPendingStart(t *testing.T) {
	c, p, s := newController(t, nil)
	p.ManualFirstFrame = true

	errc := make(chan error, 1)
	go func() {
		_, err := c.Start(context.Background(), types.CameraConfig{StartTimeout: time.Minute})
		errc <- err
	}()
	require.Eventually(t, func() bool {
		d := p.Last()
		return d != nil && d.Started()
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, Starting, c.State())

	require.NoError(t, c.Stop())
	err := <-errc
	assert.ErrorIs(t, err, ErrCameraError)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 1, p.Last().Releases())
	assertNoEvent(t, s)
}

func TestStopCancelsPendingOpen(t *testing.T) {
	c, p, _ := newController(t, nil)
	p.OpenDelay = time.Minute

	errc := make(chan error, 1)
	go func() {
		_, err := c.Start(context.Background(), types.CameraConfig{})
		errc <- err
	}()
	require.Eventually(t, func() bool { return c.State() == Starting }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Stop())
	err := <-errc
	assert.ErrorIs(t, err, ErrCameraError)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 0, p.Opened())
}

func TestInvalidScanWindowKeepsPrevious(t *testing.T) {
	c, _, _ := newController(t, nil)

	err := c.SetScanWindow(&types.ScanWindow{Left: 0.6, Top: 0, Right: 0.4, Bottom: 1})
	assert.ErrorIs(t, err, ErrInvalidScanWindow)
	assert.Equal(t, KindInvalidScanWindow, KindOf(err))
	assert.Nil(t, c.ScanWindow())

	valid := &types.ScanWindow{Left: 0.1, Top: 0.1, Right: 0.9, Bottom: 0.9}
	require.NoError(t, c.SetScanWindow(valid))
	valid.Left = 0.5

	err = c.SetScanWindow(&types.ScanWindow{Left: 0.6, Top: 0, Right: 0.4, Bottom: 1})
	assert.ErrorIs(t, err, ErrInvalidScanWindow)
	assert.Equal(t, &types.ScanWindow{Left: 0.1, Top: 0.1, Right: 0.9, Bottom: 0.9}, c.ScanWindow())

	require.NoError(t, c.SetScanWindow(nil))
	assert.Nil(t, c.ScanWindow())
}

func TestScanWindowCrop(t *testing.T) {
	c, p, s := newController(t, nil)
	_, err := c.Start(context.Background(), types.CameraConfig{Speed: types.Unrestricted})
	require.NoError(t, err)

	require.NoError(t, c.SetScanWindow(&types.ScanWindow{Left: 0.5, Top: 0.5, Right: 1, Bottom: 1}))
	// only the bottom-right quadrant is lit; the detector samples its top-left pixel
	data := make([]byte, 16)
	for _, i := range []int{10, 11, 14, 15} {
		data[i] = 77
	}
	require.True(t, p.Last().SendFrame(data))

	ev := recv(t, s)
	require.Len(t, ev.Symbols(), 1)
	assert.Equal(t, "code-77", ev.Symbols()[0].RawValue)
	assert.Equal(t, image.Rect(2, 2, 4, 4), ev.Symbols()[0].BoundingBox)

	// without the window the lit quadrant is not sampled
	require.NoError(t, c.SetScanWindow(nil))
	require.True(t, p.Last().SendFrame(data))
	assertNoEvent(t, s)

	require.NoError(t, c.Stop())
	assert.Nil(t, c.ScanWindow())
}

func TestReturnImage(t *testing.T) {
	c, p, s := newController(t, nil)
	_, err := c.Start(context.Background(), types.CameraConfig{Speed: types.Unrestricted, ReturnImage: true})
	require.NoError(t, err)

	require.True(t, p.Last().SendGray(5))
	ev := recv(t, s)
	assert.Equal(t, 4, ev.Width)
	assert.Equal(t, 4, ev.Height)
	require.Len(t, ev.Image, 16)
	assert.Equal(t, byte(5), ev.Image[0])
}

func TestNormalSpeedThrottles(t *testing.T) {
	clk := newTestClock()
	c, p, s := newController(t, nil, WithClock(clk.Now))
	_, err := c.Start(context.Background(), types.CameraConfig{Speed: types.Normal, DetectionInterval: 250 * time.Millisecond})
	require.NoError(t, err)

	dev := p.Last()
	for i := 0; i < 5; i++ {
		require.True(t, dev.SendGray(7))
	}
	recv(t, s)
	assertNoEvent(t, s)

	clk.Add(300 * time.Millisecond)
	require.True(t, dev.SendGray(8))
	assert.Equal(t, "code-8", recv(t, s).Symbols()[0].RawValue)
	assertNoEvent(t, s)
}

func TestNormalSpeedKeepsMostRecent(t *testing.T) {
	clk := newTestClock()
	c, p, s := newController(t, nil, WithClock(clk.Now))
	_, err := c.Start(context.Background(), types.CameraConfig{
		Speed:             types.Normal,
		DetectionInterval: 250 * time.Millisecond,
		ReturnImage:       true,
	})
	require.NoError(t, err)

	dev := p.Last()
	require.True(t, dev.SendGray(7))
	assert.Equal(t, "code-7", recv(t, s).Symbols()[0].RawValue)

	clk.Add(100 * time.Millisecond)
	require.True(t, dev.SendGray(8))
	// the second hand-off returns once the first frame is processed
	require.True(t, dev.SendGray(8))
	assertNoEvent(t, s)

	clk.Add(300 * time.Millisecond)
	require.True(t, dev.SendGray(0))
	ev := recv(t, s)
	assert.Equal(t, "code-8", ev.Symbols()[0].RawValue)
	require.NotEmpty(t, ev.Image)
	assert.Equal(t, byte(8), ev.Image[0])
	assertNoEvent(t, s)
}

func TestNoDuplicatesSuppressesWithinWindow(t *testing.T) {
	clk := newTestClock()
	c, p, s := newController(t, nil, WithClock(clk.Now))
	_, err := c.Start(context.Background(), types.CameraConfig{Speed: types.NoDuplicates, DuplicateWindow: 5 * time.Second})
	require.NoError(t, err)

	dev := p.Last()
	require.True(t, dev.SendGray(9))
	require.True(t, dev.SendGray(9))
	assert.Equal(t, "code-9", recv(t, s).Symbols()[0].RawValue)
	assertNoEvent(t, s)

	require.True(t, dev.SendGray(10))
	assert.Equal(t, "code-10", recv(t, s).Symbols()[0].RawValue)

	clk.Add(5 * time.Second)
	require.True(t, dev.SendGray(9))
	assert.Equal(t, "code-9", recv(t, s).Symbols()[0].RawValue)
}

func TestUnrestrictedEmitsEveryResult(t *testing.T) {
	c, p, s := newController(t, nil)
	_, err := c.Start(context.Background(), types.CameraConfig{Speed: types.Unrestricted})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.True(t, p.Last().SendGray(1))
	}
	for i := 0; i < 3; i++ {
		assert.Equal(t, sink.NameBarcode, recv(t, s).Name)
	}
}

func TestDetectorFailureKeepsSession(t *testing.T) {
	base := grayDetector()
	det := detector.Func(func(ctx context.Context, img image.Image, f []types.Format) ([]types.DetectedSymbol, error) {
		b := img.Bounds()
		switch color.GrayModel.Convert(img.At(b.Min.X, b.Min.Y)).(color.Gray).Y {
		case 13:
			panic("corrupt frame")
		case 14:
			return nil, errors.New("decoder failure")
		}
		return base(ctx, img, f)
	})
	c, p, s := newController(t, det)
	_, err := c.Start(context.Background(), types.CameraConfig{Speed: types.Unrestricted})
	require.NoError(t, err)

	dev := p.Last()
	require.True(t, dev.SendGray(13))
	require.True(t, dev.SendGray(14))
	require.True(t, dev.SendGray(15))
	assert.Equal(t, "code-15", recv(t, s).Symbols()[0].RawValue)
	assert.Equal(t, Running, c.State())
}

func TestTorchEventAfterConfirmation(t *testing.T) {
	c, p, s := newController(t, nil)
	p.ManualConfirm = true
	_, err := c.Start(context.Background(), types.CameraConfig{})
	require.NoError(t, err)

	dev := p.Last()
	require.NoError(t, c.SetTorch(true))
	assert.Equal(t, []bool{true}, dev.TorchRequests())
	assertNoEvent(t, s)

	require.True(t, dev.ConfirmTorch(types.TorchOn))
	ev := recv(t, s)
	assert.Equal(t, sink.NameTorchState, ev.Name)
	assert.Equal(t, types.TorchOn, ev.Data)
}

func TestZoomEventAfterConfirmation(t *testing.T) {
	c, p, s := newController(t, nil)
	p.ManualConfirm = true
	_, err := c.Start(context.Background(), types.CameraConfig{})
	require.NoError(t, err)

	dev := p.Last()
	require.NoError(t, c.SetZoom(2.5))
	assert.Equal(t, []float64{2.5}, dev.ZoomRequests())
	assertNoEvent(t, s)

	require.True(t, dev.ConfirmZoom(2.5))
	ev := recv(t, s)
	assert.Equal(t, sink.NameZoomState, ev.Name)
	assert.Equal(t, 2.5, ev.Data)
}

func TestEventsKeepHardwareOrder(t *testing.T) {
	c, p, s := newController(t, nil)
	p.ManualConfirm = true
	_, err := c.Start(context.Background(), types.CameraConfig{Speed: types.Unrestricted})
	require.NoError(t, err)

	dev := p.Last()
	require.True(t, dev.ConfirmZoom(2))
	require.True(t, dev.SendGray(1))
	require.True(t, dev.ConfirmTorch(types.TorchOff))
	require.True(t, dev.SendGray(2))

	var names []sink.Name
	for i := 0; i < 4; i++ {
		names = append(names, recv(t, s).Name)
	}
	assert.Equal(t, []sink.Name{sink.NameZoomState, sink.NameBarcode, sink.NameTorchState, sink.NameBarcode}, names)
}

func TestSetZoomRejectsOutOfRange(t *testing.T) {
	c, p, _ := newController(t, nil)
	_, err := c.Start(context.Background(), types.CameraConfig{})
	require.NoError(t, err)

	for _, v := range []float64{0.5, 4.5, math.NaN()} {
		err := c.SetZoom(v)
		assert.ErrorIs(t, err, ErrCameraError)
	}
	assert.Empty(t, p.Last().ZoomRequests())
	assert.Equal(t, Running, c.State())
}

func TestControlsRequireRunning(t *testing.T) {
	c, _, _ := newController(t, nil)
	assert.ErrorIs(t, c.SetTorch(true), ErrTorchError)
	assert.ErrorIs(t, c.SetZoom(2), ErrCameraError)
}

func TestTorchWithoutFlash(t *testing.T) {
	c, p, s := newController(t, nil)
	p.Info.HasFlash = false

	// a torch request on a flashless camera does not prevent the session
	info, err := c.Start(context.Background(), types.CameraConfig{Torch: true})
	require.NoError(t, err)
	assert.False(t, info.TorchAvailable)
	ev := recv(t, s)
	assert.Equal(t, sink.NameTorchState, ev.Name)
	assert.Equal(t, types.TorchUnavailable, ev.Data)

	err = c.SetTorch(true)
	assert.ErrorIs(t, err, ErrTorchError)
	assert.Equal(t, KindTorchError, KindOf(err))
	assert.Equal(t, Running, c.State())
}

func TestStartTorchRejected(t *testing.T) {
	c, p, _ := newController(t, nil)
	p.TorchErr = errors.New("LED busy")

	_, err := c.Start(context.Background(), types.CameraConfig{Torch: true})
	assert.ErrorIs(t, err, ErrTorchError)
	assert.Equal(t, Failed, c.State())
	assert.Nil(t, c.Config())
	assert.Equal(t, 1, p.Last().Releases())
}

func TestHardwareErrorFailsSession(t *testing.T) {
	c, p, s := newController(t, nil)
	_, err := c.Start(context.Background(), types.CameraConfig{})
	require.NoError(t, err)

	dev := p.Last()
	require.True(t, dev.Fail(errors.New("usb disconnected")))
	ev := recv(t, s)
	assert.Equal(t, sink.NameError, ev.Name)
	assert.Contains(t, ev.Data, "usb disconnected")
	assert.Equal(t, Failed, c.State())
	assert.Nil(t, c.Config())
	require.Eventually(t, dev.Closed, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Stop())
	assert.Equal(t, 1, dev.Releases())

	_, err = c.Start(context.Background(), types.CameraConfig{})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Opened())
}

func TestHardwareErrorRacingStop(t *testing.T) {
	for i := 0; i < 50; i++ {
		c, p, _ := newController(t, nil)
		_, err := c.Start(context.Background(), types.CameraConfig{})
		require.NoError(t, err)
		dev := p.Last()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			dev.Fail(errors.New("sensor timeout"))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Stop())
		}()
		wg.Wait()

		assert.Equal(t, 1, dev.Releases())
		assert.Equal(t, Idle, c.State())
	}
}

func TestRequestPermission(t *testing.T) {
	c, _, _ := newController(t, nil, WithPermissions(permission.Static{Granted: false}))
	assert.False(t, c.QueryPermission())

	granted, err := c.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.False(t, granted)

	open, _, _ := newController(t, nil)
	assert.True(t, open.QueryPermission())
	granted, err = open.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestStartRejectsUnknownSpeed(t *testing.T) {
	c, p, _ := newController(t, nil)
	_, err := c.Start(context.Background(), types.CameraConfig{Speed: types.DetectionSpeed(9)})
	assert.ErrorIs(t, err, ErrCameraError)
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 0, p.Opened())
}

func TestHardwareErrorWhileStarting(t *testing.T) {
	c, p, s := newController(t, nil)
	p.ManualFirstFrame = true

	go func() {
		for {
			if d := p.Last(); d != nil && d.Started() {
				d.Fail(errors.New("no signal"))
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
	_, err := c.Start(context.Background(), types.CameraConfig{StartTimeout: time.Minute})
	assert.ErrorIs(t, err, ErrCameraError)
	assert.Contains(t, err.Error(), "no signal")
	assert.Equal(t, Failed, c.State())
	assert.Equal(t, sink.NameError, recv(t, s).Name)
	assert.Equal(t, 1, p.Last().Releases())
}
