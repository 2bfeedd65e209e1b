package coordinator

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/verdantlab/brokkoli/internal/config"
	"github.com/verdantlab/brokkoli/internal/mqtt"
)

// fakePublisher records registrations and publishes.
type fakePublisher struct {
	mu          sync.Mutex
	connected   bool
	connectErr  error
	registered  []mqtt.SensorSpec
	published   []map[string]any
	disconnects int
}

func (f *fakePublisher) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
	return nil
}

func (f *fakePublisher) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePublisher) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakePublisher) RegisterSensor(_ context.Context, spec mqtt.SensorSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, spec)
	return nil
}

func (f *fakePublisher) PublishSensorData(_ context.Context, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make(map[string]any, len(data))
	for k, v := range data {
		copied[k] = v
	}
	f.published = append(f.published, copied)
	return nil
}

func (f *fakePublisher) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

// writeGreenImage drops a fully green PNG into dir.
func writeGreenImage(t *testing.T, dir, name string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 6, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			img.SetRGBA(x, y, color.RGBA{20, 220, 20, 255})
		}
	}
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Encode: %v", err)
	}
}

func testConfig(t *testing.T, quadrants bool) *config.Config {
	t.Helper()
	dir := t.TempDir()
	writeGreenImage(t, dir, "frame.png")

	return &config.Config{
		MQTT: config.MQTTConfig{Host: "localhost", Port: 1883, DiscoveryPrefix: "homeassistant", DeviceName: "brokkoli"},
		Sources: []config.SourceConfig{
			{Name: "Camera Left", Type: "folder", Path: dir, UpdateIntervalSec: 1},
		},
		Processors: []config.ProcessorConfig{
			{Name: "Green Pixels", Type: "green_pixels", Quadrants: quadrants},
		},
	}
}

func TestNew_SkipsUnknownTypes(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Sources = append(cfg.Sources, config.SourceConfig{Name: "Stream", Type: "rtsp", Path: "x", UpdateIntervalSec: 1})
	cfg.Processors = append(cfg.Processors, config.ProcessorConfig{Name: "Motion", Type: "motion"})

	c, err := New(cfg, &fakePublisher{}, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if len(c.sources) != 1 {
		t.Errorf("sources = %d, want 1 (unknown type skipped)", len(c.sources))
	}
	if len(c.processors) != 1 {
		t.Errorf("processors = %d, want 1 (unknown type skipped)", len(c.processors))
	}
}

func TestNew_SkipsDisabledSources(t *testing.T) {
	cfg := testConfig(t, false)
	off := false
	cfg.Sources[0].Enabled = &off

	c, err := New(cfg, &fakePublisher{}, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if len(c.sources) != 0 {
		t.Errorf("sources = %d, want 0 (disabled)", len(c.sources))
	}
}

func TestStart_ConnectFailureIsFatal(t *testing.T) {
	cfg := testConfig(t, false)
	pub := &fakePublisher{connectErr: errors.New("broker unreachable")}

	c, err := New(cfg, pub, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("Start should fail when the client cannot connect")
	}
}

func TestStart_RegistersDiscoveryCrossProduct(t *testing.T) {
	cfg := testConfig(t, false)
	pub := &fakePublisher{}

	c, err := New(cfg, pub, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer c.Stop(context.Background())

	wantIDs := map[string]string{
		"brokkoli_camera_left_green_pixels":     "brokkoli/camera_left/green_pixels/state",
		"brokkoli_camera_left_total_pixels":     "brokkoli/camera_left/total_pixels/state",
		"brokkoli_camera_left_green_percentage": "brokkoli/camera_left/green_percentage/state",
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.registered) != len(wantIDs) {
		t.Fatalf("registered %d sensors, want %d", len(pub.registered), len(wantIDs))
	}
	for _, spec := range pub.registered {
		wantTopic, ok := wantIDs[spec.ID]
		if !ok {
			t.Errorf("unexpected sensor id %q", spec.ID)
			continue
		}
		if spec.StateTopic != wantTopic {
			t.Errorf("sensor %s state topic = %q, want %q", spec.ID, spec.StateTopic, wantTopic)
		}
	}
}

func TestStart_DisabledProcessorRegistersNothing(t *testing.T) {
	cfg := testConfig(t, false)
	off := false
	cfg.Processors[0].Enabled = &off
	pub := &fakePublisher{}

	c, err := New(cfg, pub, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer c.Stop(context.Background())

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.registered) != 0 {
		t.Errorf("registered %d sensors for disabled processor, want 0", len(pub.registered))
	}
}

func TestTick_PublishesNamespacedResults(t *testing.T) {
	cfg := testConfig(t, false)
	pub := &fakePublisher{connected: true}

	c, err := New(cfg, pub, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if err := c.tick(context.Background()); err != nil {
		t.Fatalf("tick error: %v", err)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.published) != 1 {
		t.Fatalf("published %d batches, want 1", len(pub.published))
	}
	data := pub.published[0]
	if got := data["brokkoli_camera_left_green_pixels"]; got != 36 {
		t.Errorf("green_pixels = %v, want 36 (fully green 6x6)", got)
	}
	if got := data["brokkoli_camera_left_green_percentage"]; got != 100.0 {
		t.Errorf("green_percentage = %v, want 100", got)
	}
}

func TestTick_SameFrameNotRepublished(t *testing.T) {
	cfg := testConfig(t, false)
	pub := &fakePublisher{connected: true}

	c, err := New(cfg, pub, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	ctx := context.Background()
	if err := c.tick(ctx); err != nil {
		t.Fatalf("first tick error: %v", err)
	}
	if err := c.tick(ctx); err != nil {
		t.Fatalf("second tick error: %v", err)
	}

	if got := pub.publishCount(); got != 1 {
		t.Errorf("published %d batches, want 1 (no new frame)", got)
	}
}

func TestTick_SkipsWhileDisconnected(t *testing.T) {
	cfg := testConfig(t, false)
	pub := &fakePublisher{connected: false}

	c, err := New(cfg, pub, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	ctx := context.Background()
	if err := c.tick(ctx); err != nil {
		t.Fatalf("tick error: %v", err)
	}
	if got := pub.publishCount(); got != 0 {
		t.Fatalf("published %d batches while disconnected, want 0", got)
	}

	// The frame was not consumed: it flows on the first connected tick.
	pub.setConnected(true)
	if err := c.tick(ctx); err != nil {
		t.Fatalf("tick after reconnect error: %v", err)
	}
	if got := pub.publishCount(); got != 1 {
		t.Errorf("published %d batches after reconnect, want 1", got)
	}
}

func TestStartStop_Lifecycle(t *testing.T) {
	cfg := testConfig(t, false)
	pub := &fakePublisher{}

	c, err := New(cfg, pub, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.Stop(stopCtx)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", pub.disconnects)
	}
	if pub.connected {
		t.Error("still connected after Stop")
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Camera Left", "camera_left"},
		{"camera_left", "camera_left"},
		{"Back Yard Cam 2", "back_yard_cam_2"},
	}
	for _, tt := range tests {
		if got := slugify(tt.in); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
