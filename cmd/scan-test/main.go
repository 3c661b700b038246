package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"qr-shutter-pi/pkg/camera"
	"qr-shutter-pi/pkg/camera/fake"
	"qr-shutter-pi/pkg/detector"
	"qr-shutter-pi/pkg/session"
	"qr-shutter-pi/pkg/sink"
	"qr-shutter-pi/pkg/types"
	imgutil "qr-shutter-pi/pkg/utils/image"
)

// 在一个 main 里循环完成以下测试流程：
// 1) 启动扫码会话
// 2) 读取若干条识别结果
// 3) 停止会话，确认重复 stop 返回 AlreadyStopped
func main() {
	dev := flag.String("dev", "/dev/video0", "视频设备路径")
	w := flag.Int("w", 1280, "采集宽度")
	h := flag.Int("h", 720, "采集高度")
	speed := flag.String("speed", "normal", "识别速度: noDuplicates, normal, unrestricted")
	n := flag.Int("n", 3, "每轮读取的识别结果数")
	loops := flag.Int("loops", 1, "循环次数，0 表示一直循环")
	timeout := flag.Duration("timeout", 10*time.Second, "读结果超时时间")
	useFake := flag.Bool("fake", false, "使用内存摄像头")
	imagePath := flag.String("image", "", "内存摄像头循环发送的图片 (jpeg)")
	flag.Parse()

	sp, err := types.ParseDetectionSpeed(*speed)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	var provider camera.Provider
	var fp *fake.Provider
	if *useFake {
		fp, err = newFakeProvider(*imagePath)
		if err != nil {
			fmt.Println("加载图片失败:", err)
			os.Exit(1)
		}
		provider = fp
	} else {
		provider = camera.NewV4L2(camera.V4L2Config{
			Devices:     map[types.Facing]string{types.FacingFront: *dev},
			PixelFormat: types.PixelFmtMJPEG,
		})
	}

	events := sink.NewChan(16)
	ctl := session.New(provider, detector.NewZXing(), events)

	for iter := 1; *loops == 0 || iter <= *loops; iter++ {
		fmt.Printf("\n===== 循环第 %d 次 =====\n", iter)

		fmt.Printf("[1/3] 启动会话: %dx%d, %s...\n", *w, *h, sp)
		if fp != nil && *imagePath != "" {
			go feedNext(fp, fp.Opened())
		}
		info, err := ctl.Start(context.Background(), types.CameraConfig{Speed: sp, Width: *w, Height: *h})
		if err != nil {
			fmt.Printf("Start 失败 (%s): %s\n", session.KindOf(err), err)
			os.Exit(1)
		}
		fmt.Printf("会话 %s 已启动: %dx%d, 闪光灯: %v\n", info.SessionID, info.Width, info.Height, info.TorchAvailable)

		fmt.Printf("[2/3] 读取 %d 条识别结果...\n", *n)
		readEvents(events, *n, *timeout)

		fmt.Println("[3/3] 停止会话...")
		if err := ctl.Stop(); err != nil {
			fmt.Println("Stop 失败:", err)
			os.Exit(1)
		}
		if err := ctl.Stop(); !errors.Is(err, session.ErrAlreadyStopped) {
			fmt.Println("重复 Stop 应返回 AlreadyStopped, 实际:", err)
			os.Exit(1)
		}

		// 每轮之间稍作等待，避免过于频繁重配设备
		time.Sleep(500 * time.Millisecond)
	}
}

func newFakeProvider(path string) (*fake.Provider, error) {
	p := fake.NewProvider()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := imgutil.Decode(data)
	if err != nil {
		return nil, err
	}
	p.Info.Format = types.PixelFmtJPEG
	p.Info.Width = img.Bounds().Dx()
	p.Info.Height = img.Bounds().Dy()
	p.ManualFirstFrame = true
	frame = data

	return p, nil
}

var frame []byte

// feedNext 等待第 opened+1 个设备打开后，以约 10fps 发送图片，直到设备关闭
func feedNext(p *fake.Provider, opened int) {
	for p.Opened() <= opened {
		time.Sleep(10 * time.Millisecond)
	}
	d := p.Last()
	for d.SendFrame(frame) {
		time.Sleep(100 * time.Millisecond)
	}
}

func readEvents(ch *sink.Chan, n int, timeout time.Duration) {
	got := 0
	for got < n {
		select {
		case ev := <-ch.Events():
			switch ev.Name {
			case sink.NameBarcode:
				for _, s := range ev.Symbols() {
					fmt.Printf("识别结果 %d: [%s] %s %v\n", got+1, s.Format, s.RawValue, s.BoundingBox)
				}
				got++
			case sink.NameError:
				fmt.Println("摄像头错误:", ev.Data)
				os.Exit(1)
			default:
				fmt.Printf("%s: %v\n", ev.Name, ev.Data)
			}
		case <-time.After(timeout):
			fmt.Println("读取识别结果超时")
			os.Exit(1)
		}
	}
}
