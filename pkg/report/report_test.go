package report

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stem4d/internal/models"
)

func testField() *models.ShiftField {
	field := models.NewShiftField(16, 16)
	for i := range field.SX {
		field.SX[i] = math.Sin(float64(i) * 0.2)
		field.SY[i] = math.Cos(float64(i) * 0.3)
	}
	return field
}

// TestWriteRendersBothCharts verifies that the page contains both scatter
// series.
func TestWriteRendersBothCharts(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, testField(), "test run"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	html := buf.String()
	if !strings.Contains(html, "Shift Plane") {
		t.Error("Expected shift-plane chart in report")
	}
	if !strings.Contains(html, "Scan Grid Magnitude") {
		t.Error("Expected scan-grid chart in report")
	}
}

// TestWriteSkipsNaN verifies that NaN entries do not break rendering.
func TestWriteSkipsNaN(t *testing.T) {
	field := testField()
	field.SX[5] = math.NaN()
	field.SY[5] = math.NaN()

	var buf bytes.Buffer
	if err := Write(&buf, field, "with gaps"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if strings.Contains(buf.String(), "NaN") {
		t.Error("NaN leaked into rendered report")
	}
}

// TestSave verifies the file wrapper.
func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.html")
	if err := Save(path, testField(), "saved"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		t.Error("Expected non-empty report file")
	}
}
