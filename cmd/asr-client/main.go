// Command asr-client streams a WAV file to a streamasr server over a
// websocket in 100 ms pcm16 chunks and prints the partial and final results.
//
// Usage:
//
//	asr-client -url ws://localhost:8080/v1/asr [-hotwords "▁HE LLO/▁WORLD"] file.wav
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/streamasr/internal/server"
	"github.com/MrWong99/streamasr/pkg/audio"
)

func main() {
	os.Exit(run())
}

func run() int {
	serverURL := flag.String("url", "ws://localhost:8080/v1/asr", "websocket endpoint")
	hotwords := flag.String("hotwords", "", "per-stream hotwords, phrases separated by '/'")
	chunk := flag.Duration("chunk", 100*time.Millisecond, "audio per websocket message")
	realtime := flag.Bool("realtime", true, "pace chunks at playback speed")
	partials := flag.Bool("partials", true, "print partial results")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] file.wav\n", os.Args[0])
		return 2
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	wave, err := audio.ReadWAVFile(flag.Arg(0))
	if err != nil {
		slog.Error("read input failed", "err", err)
		return 1
	}

	u, err := url.Parse(*serverURL)
	if err != nil {
		slog.Error("invalid url", "err", err)
		return 2
	}
	q := u.Query()
	q.Set("format", "pcm16")
	q.Set("sample_rate", strconv.Itoa(wave.SampleRate))
	if *hotwords != "" {
		q.Set("hotwords", *hotwords)
	}
	u.RawQuery = q.Encode()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, resp, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		slog.Error("dial failed", "url", u.String(), "err", err)
		return 1
	}
	defer conn.CloseNow()
	slog.Info("connected", "stream", resp.Header.Get("X-Stream-ID"), "audio_seconds", wave.Duration())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return send(gctx, conn, wave, *chunk, *realtime) })
	g.Go(func() error { return receive(gctx, conn, *partials) })
	if err := g.Wait(); err != nil {
		slog.Error("stream failed", "err", err)
		return 1
	}
	conn.Close(websocket.StatusNormalClosure, "")
	return 0
}

func send(ctx context.Context, conn *websocket.Conn, wave audio.Wave, chunk time.Duration, realtime bool) error {
	step := max(1, int(float64(wave.SampleRate)*chunk.Seconds()))
	var tick <-chan time.Time
	if realtime {
		t := time.NewTicker(chunk)
		defer t.Stop()
		tick = t.C
	}
	for i := 0; i < len(wave.Samples); i += step {
		end := min(i+step, len(wave.Samples))
		if err := conn.Write(ctx, websocket.MessageBinary, audio.Float32ToPCM16(wave.Samples[i:end])); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		}
	}
	return wsjson.Write(ctx, conn, server.ControlMessage{Type: server.TypeDone})
}

func receive(ctx context.Context, conn *websocket.Conn, partials bool) error {
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		var ctl server.ControlMessage
		if err := json.Unmarshal(raw, &ctl); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
		switch ctl.Type {
		case server.TypeDone:
			slog.Info("stream finished", "stream", ctl.StreamID)
			return nil
		case server.TypeError:
			return errors.New("server: " + ctl.Error)
		}

		var res server.ResultMessage
		if err := json.Unmarshal(raw, &res); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		switch res.Type {
		case server.TypeFinal:
			fmt.Printf("\r[%d] %.2fs: %s\n", res.Segment, res.StartTime, res.Text)
		case server.TypePartial:
			if partials {
				fmt.Printf("\r[%d] ... %s", res.Segment, res.Text)
			}
		}
	}
}
