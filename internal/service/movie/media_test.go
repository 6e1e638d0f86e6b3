package movie

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"filmforge/internal/pkg/ffmpeg"
	"filmforge/internal/pkg/storage/local"
)

// writeStubFFmpeg 生成一个只会睡觉的假 ffmpeg，模拟卡死的外部进程
func writeStubFFmpeg(t *testing.T, dir string, sleepSeconds int) string {
	t.Helper()
	path := filepath.Join(dir, "ffmpeg")
	script := fmt.Sprintf("#!/bin/sh\nsleep %d\n", sleepSeconds)
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("write stub ffmpeg: %v", err)
	}
	return path
}

func TestMediaServiceTimeout(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("FFMPEG_PATH", writeStubFFmpeg(t, tmpDir, 10))

	fileServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fake video bytes"))
	}))
	defer fileServer.Close()

	Convey("卡死的外部进程到超时就被杀掉，混音按失败返回", t, func() {
		store, err := local.NewLocalStorage(filepath.Join(tmpDir, "store"), "http://localhost:8080/static")
		So(err, ShouldBeNil)

		svc := NewMediaService(ffmpeg.NewClient(), store)
		svc.muxTimeout = 200 * time.Millisecond

		start := time.Now()
		_, err = svc.MuxNarration(context.Background(), "p1", 1, fileServer.URL+"/scene.mp4", []byte("fake-audio"))
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "mux narration")
		// 假 ffmpeg 会睡 10 秒，这里必须早得多就回来
		So(time.Since(start), ShouldBeLessThan, 5*time.Second)
	})

	Convey("合成成片同样受超时约束", t, func() {
		store, err := local.NewLocalStorage(filepath.Join(tmpDir, "store2"), "http://localhost:8080/static")
		So(err, ShouldBeNil)

		svc := NewMediaService(ffmpeg.NewClient(), store)
		svc.concatTimeout = 200 * time.Millisecond

		start := time.Now()
		_, _, err = svc.ConcatScenes(context.Background(), "p1", []string{fileServer.URL + "/s1.mp4", fileServer.URL + "/s2.mp4"})
		So(err, ShouldNotBeNil)
		So(time.Since(start), ShouldBeLessThan, 5*time.Second)
	})
}
