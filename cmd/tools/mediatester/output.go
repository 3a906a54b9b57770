package main

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ebitengine/oto/v3"
)

// writeDataURL 把 data URL 解码后写入文件。
func writeDataURL(path, dataURL string) error {
	_, payload, ok := strings.Cut(dataURL, ";base64,")
	if !ok {
		return errors.New("unexpected data URL")
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

// playPCM 通过默认输出设备播放单声道 16-bit PCM，播放结束后返回。
func playPCM(pcm []byte, sampleRate int) error {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}
	<-ready

	player := otoCtx.NewPlayer(bytes.NewReader(pcm))
	defer player.Close()
	player.Play()
	for player.IsPlaying() {
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}
