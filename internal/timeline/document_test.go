package timeline

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jengzang/framelab-backend/internal/skeleton"
)

func TestPersistRestoreRoundTrip(t *testing.T) {
	tl := New()
	tl.AddFrame()
	if err := tl.SetFrameImage(1, "https://img/1.png"); err != nil {
		t.Fatal(err)
	}
	if err := tl.SetFPS(12); err != nil {
		t.Fatal(err)
	}
	if err := tl.SetOutputSize(Size768); err != nil {
		t.Fatal(err)
	}
	if err := tl.SetViewMode(ViewPoseOnly); err != nil {
		t.Fatal(err)
	}
	tl.SetReferenceImage("data:image/png;base64,AA==")
	tl.TogglePlaying()

	data, err := tl.Persisted()
	if err != nil {
		t.Fatalf("Persisted failed: %v", err)
	}
	restored, err := Restore(data)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	if restored.Len() != tl.Len() || restored.Cursor() != 1 {
		t.Errorf("restored len=%d cursor=%d", restored.Len(), restored.Cursor())
	}
	if img, _ := restored.FrameImage(1); img != "https://img/1.png" {
		t.Errorf("frame image = %q", img)
	}
	if restored.FPS() != 12 || restored.OutputSize() != Size768 || restored.ViewMode() != ViewPoseOnly {
		t.Errorf("settings not restored: fps=%d size=%s view=%s", restored.FPS(), restored.OutputSize(), restored.ViewMode())
	}
	if restored.ReferenceImage() != "data:image/png;base64,AA==" {
		t.Error("reference image not restored")
	}
	if restored.Playing() {
		t.Error("playing flag is transient")
	}
	for i, f := range restored.Frames() {
		orig, _ := tl.Frame(i)
		if !f.Equal(orig) {
			t.Errorf("frame %d differs after restore", i)
		}
	}
}

func TestRestoreFillsDefaultsAndClamps(t *testing.T) {
	doc := `{
		"skeletons": [{"Neck": [100, 100]}, {"Neck": [110, 100]}],
		"frameImages": ["a.png", null, "extra.png"],
		"selectedFrame": 7,
		"fps": 0,
		"outputSize": "9x9",
		"someFutureKey": true
	}`
	tl, err := Restore([]byte(doc))
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if tl.Len() != 2 {
		t.Fatalf("len = %d, want 2", tl.Len())
	}
	if tl.Cursor() != 1 {
		t.Errorf("cursor = %d, want clamp to 1", tl.Cursor())
	}
	if img, _ := tl.FrameImage(0); img != "a.png" {
		t.Errorf("frame image 0 = %q", img)
	}
	if pv, _ := tl.PoseImage(1); pv != "" {
		t.Errorf("missing previews default to absent, got %q", pv)
	}
	if tl.FPS() != DefaultFPS || tl.OutputSize() != DefaultOutputSize || tl.ViewMode() != ViewStack {
		t.Error("invalid settings should fall back to defaults")
	}
}

func TestRestoreEmptyDocument(t *testing.T) {
	tl, err := Restore([]byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if tl.Len() != DefaultFrameCount {
		t.Errorf("len = %d, want %d", tl.Len(), DefaultFrameCount)
	}
}

func TestExportImport(t *testing.T) {
	tl := New()
	if err := tl.LoadFrames([]skeleton.Skeleton{skeleton.DefaultSkeleton(), raisedArm()}); err != nil {
		t.Fatal(err)
	}
	doc := tl.Export("wave", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	if doc.FrameCount != 2 || len(doc.Frames) != 2 {
		t.Fatalf("frameCount=%d frames=%d", doc.FrameCount, len(doc.Frames))
	}
	if _, ok := doc.Frames[0][skeleton.Neck]; !ok {
		t.Error("exported frames should be flat keypoint maps")
	}

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	imported, err := DecodeAnimation(data, nil)
	if err != nil {
		t.Fatalf("DecodeAnimation failed: %v", err)
	}
	if imported.Name != "wave" || imported.FPS != DefaultFPS || len(imported.Frames) != 2 {
		t.Fatalf("unexpected import %+v", imported)
	}
	want := skeleton.ToKeypoints(raisedArm())
	got := skeleton.ToKeypoints(imported.Frames[1])
	for k, p := range want {
		if d := p.Point().Sub(got[k].Point()).Norm(); d > 1e-6 {
			t.Errorf("%s moved by %f after export/import", k, d)
		}
	}
}

func TestDecodeAnimationHierarchicalFrames(t *testing.T) {
	frame, err := json.Marshal(skeleton.DefaultSkeleton())
	if err != nil {
		t.Fatal(err)
	}
	data := []byte(`{"name":"idle","frames":[` + string(frame) + `],"frameCount":3}`)
	imported, err := DecodeAnimation(data, nil)
	if err != nil {
		t.Fatalf("DecodeAnimation failed: %v", err)
	}
	if len(imported.Frames) != 1 || !imported.Frames[0].Equal(skeleton.DefaultSkeleton()) {
		t.Error("hierarchical frame not decoded as-is")
	}
}

func TestDecodeAnimationErrors(t *testing.T) {
	if _, err := DecodeAnimation([]byte(`{"name":"x","frames":[]}`), nil); !errors.Is(err, ErrEmptyTimeline) {
		t.Errorf("expected ErrEmptyTimeline, got %v", err)
	}
	if _, err := DecodeAnimation([]byte(`{"frames":[{"joints":[{"id":"a","parent":"b"}]}]}`), nil); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("expected ErrInvalidFrame, got %v", err)
	}
	cyclic := `{"frames":[{"joints":[{"id":"hip"},{"id":"a","parent":"b"},{"id":"b","parent":"a"}]}]}`
	if _, err := DecodeAnimation([]byte(cyclic), nil); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("expected ErrInvalidFrame for a cyclic frame, got %v", err)
	}
	if _, err := DecodeAnimation([]byte(`not json`), nil); err == nil {
		t.Error("expected decode error")
	}
}

func TestSizeText(t *testing.T) {
	var s Size
	if err := s.UnmarshalText([]byte("768x768")); err != nil || s != Size768 {
		t.Errorf("got %v, %v", s, err)
	}
	if _, err := ParseSize("512"); err == nil {
		t.Error("expected error for missing height")
	}
}
