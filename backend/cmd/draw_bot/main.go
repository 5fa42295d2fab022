// draw_bot joins a board as a headless participant, draws a scripted
// picture and exports what it sees as a PNG.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NainaKothari-14/drawtogether/backend/internal/canvas"
	"github.com/NainaKothari-14/drawtogether/backend/internal/participant"
)

var brushes = []canvas.Brush{canvas.BrushNormal, canvas.BrushMarker, canvas.BrushSpray, canvas.BrushGlow, canvas.BrushBlur}

func main() {
	var (
		server    = flag.String("server", "http://localhost:8080", "draw server base URL")
		board     = flag.String("board", "lobby", "board key to join")
		name      = flag.String("name", "draw-bot", "display name")
		strokes   = flag.Int("strokes", 20, "number of strokes to draw")
		delay     = flag.Duration("delay", 50*time.Millisecond, "pause between edits")
		width     = flag.Int("width", 1200, "canvas width")
		height    = flag.Int("height", 800, "canvas height")
		tolerance = flag.Int("tolerance", 10, "flood fill tolerance; 0 uses the default, negative matches exactly")
		out       = flag.String("out", "board.png", "PNG written on exit; empty skips the export")
		replay    = flag.Bool("replay", false, "play the local history back before exporting")
	)
	flag.Parse()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	client, err := participant.Dial(dialCtx, *server, *name)
	cancel()
	if err != nil {
		log.Fatalf("dial %s failed: %v", *server, err)
	}
	defer client.Close()

	s, err := participant.NewSession(*board, *name, client, participant.Options{
		Width:     *width,
		Height:    *height,
		Tolerance: *tolerance,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("new session: %v", err)
	}
	defer s.Close()

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx, s) }()

	if err := s.Join(ctx); err != nil {
		log.Fatalf("join: %v", err)
	}
	if err := waitJoined(ctx, s); err != nil {
		log.Fatalf("join %s: %v", *board, err)
	}
	logger.Info("joined", "board", *board, "identity", s.Identity(), "seq", s.Seq(), "members", len(s.Members()))

	if err := draw(ctx, s, *strokes, *delay, *width, *height); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("drawing stopped", "err", err)
	}

	if *replay {
		n, err := s.Replay(ctx, *delay, nil)
		logger.Info("replayed history", "steps", n, "err", err)
	}
	if *out != "" {
		data, err := s.PNG()
		if err != nil {
			log.Fatalf("encode: %v", err)
		}
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			log.Fatalf("write %s: %v", *out, err)
		}
		logger.Info("exported", "file", *out, "seq", s.Seq())
	}

	_ = s.Leave(context.Background())
	client.Close()
	if err := <-runErr; err != nil {
		logger.Warn("connection closed", "err", err)
	}
	for _, a := range s.Activity() {
		fmt.Printf("%s %s %s\n", a.At.Format(time.TimeOnly), a.Name, a.Text)
	}
}

func waitJoined(ctx context.Context, s *participant.Session) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		if msg := s.LastError(); msg != "" {
			return errors.New(msg)
		}
		for _, m := range s.Members() {
			if m.Identity == s.Identity() {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// draw paints a framed scene: a border, random strokes, a few shapes and a
// fill of the background.
func draw(ctx context.Context, s *participant.Session, strokes int, delay time.Duration, w, h int) error {
	fw, fh := float64(w), float64(h)
	color := s.Color()
	if color == "" {
		color = "#333333"
	}
	steps := []canvas.Payload{
		canvas.Shape{Type: canvas.ShapeRectangle, X0: 10, Y0: 10, X1: fw - 10, Y1: fh - 10, Color: color, Size: 4},
	}
	for i := 0; i < strokes; i++ {
		steps = append(steps, canvas.Stroke{
			X0: rand.Float64() * fw, Y0: rand.Float64() * fh,
			X1: rand.Float64() * fw, Y1: rand.Float64() * fh,
			Color: color,
			Size:  1 + rand.Float64()*8,
			Brush: brushes[rand.IntN(len(brushes))],
		})
	}
	steps = append(steps,
		canvas.Shape{Type: canvas.ShapeCircle, X0: fw / 2, Y0: fh / 2, X1: fw/2 + fh/6, Y1: fh / 2, Color: "#000000", FillColor: "#F7DC6F", Size: 3},
		canvas.Shape{Type: canvas.ShapeLine, X0: 20, Y0: fh - 20, X1: fw - 20, Y1: 20, Color: "#4ECDC4", Size: 6},
		canvas.Fill{X: 5, Y: 5, FillColor: "#85C1E2"},
	)

	for i, p := range steps {
		if err := s.Draw(ctx, p); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if err := s.MoveCursor(ctx, rand.Float64()*fw, rand.Float64()*fh); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil
}
