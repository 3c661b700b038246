package video

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"qr-shutter-pi/pkg/sink"
	"qr-shutter-pi/pkg/types"
	"qr-shutter-pi/pkg/utils"
	imgutil "qr-shutter-pi/pkg/utils/image"
)

const (
	queueSize   = 16
	jpegQuality = 85
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("video")
}

// Recorder is a sink that appends the frame of every barcode event carrying
// an image to an MJPEG AVI file in dir. A new file is started after
// maxFrames frames or when the frame size changes.
type Recorder struct {
	dir       string
	fps       int
	maxFrames int

	queue   chan sink.Event
	dropped atomic.Int64
	seq     int
	cur     *Builder
}

func NewRecorder(dir string, fps, maxFrames int) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}
	if fps <= 0 {
		fps = 1
	}
	return &Recorder{
		dir:       dir,
		fps:       fps,
		maxFrames: maxFrames,
		queue:     make(chan sink.Event, queueSize),
	}, nil
}

// Publish queues ev for Run. Events are dropped while the queue is full.
func (r *Recorder) Publish(ev sink.Event) {
	if ev.Name != sink.NameBarcode || len(ev.Image) == 0 {
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Run writes queued frames until ctx is done, then closes the current file.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.closeCurrent()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.queue:
			if err := r.write(ev); err != nil {
				logger.Errorf("record frame: %s", err)
			}
		}
	}
}

func (r *Recorder) write(ev sink.Event) error {
	data, err := toJPEG(ev)
	if err != nil {
		return err
	}

	if r.cur != nil && (r.cur.width != ev.Width || r.cur.height != ev.Height ||
		(r.maxFrames > 0 && r.cur.GetCnt() >= r.maxFrames)) {
		r.closeCurrent()
	}
	if r.cur == nil {
		r.seq++
		name := fmt.Sprintf("scan-%s-%03d.avi", time.Now().Format("20060102-150405"), r.seq)
		b, err := NewBuilder(filepath.Join(r.dir, name), ev.Width, ev.Height, r.fps)
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		r.cur = b
	}

	return r.cur.Add(data)
}

func (r *Recorder) closeCurrent() {
	if r.cur == nil {
		return
	}
	b := r.cur
	r.cur = nil
	if err := b.Close(); err != nil {
		logger.Errorf("close %s: %s", b.Path(), err)
		return
	}
	if fi, err := os.Stat(b.Path()); err == nil {
		logger.Infof("saved %s: %d frames, %s", filepath.Base(b.Path()), b.GetCnt(), humanize.Bytes(uint64(fi.Size())))
	}
}

func toJPEG(ev sink.Event) ([]byte, error) {
	if ev.Format == types.PixelFmtJPEG || ev.Format == types.PixelFmtMJPEG {
		return ev.Image, nil
	}
	img, err := imgutil.DecodeFrame(types.Frame{
		Data:   ev.Image,
		Width:  ev.Width,
		Height: ev.Height,
		Format: ev.Format,
	})
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imgutil.EncodeJPEG(img, &buf, jpegQuality); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	return buf.Bytes(), nil
}
