package tui

import (
	"strings"
	"testing"
)

// =============================================================================
// Tests: RcStyle / CountStyle
// =============================================================================

func TestRcStyle(t *testing.T) {
	tests := []struct {
		rc   int
		want string
	}{
		{0, "clean"},
		{1, "failed"},
		{127, "failed"},
		{128, "failed"},
		{137, "killed"},
		{143, "killed"},
	}

	styles := map[string]string{
		"clean":  cleanStyle.Render("x"),
		"failed": failedStyle.Render("x"),
		"killed": killedStyle.Render("x"),
	}

	for _, tt := range tests {
		if got := RcStyle(tt.rc).Render("x"); got != styles[tt.want] {
			t.Errorf("RcStyle(%d) rendered %q, want %s style", tt.rc, got, tt.want)
		}
	}
}

func TestCountStyle(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "clean"},
		{1, "failed"},
		{9, "failed"},
		{10, "killed"},
		{500, "killed"},
	}

	styles := map[string]string{
		"clean":  cleanStyle.Render("x"),
		"failed": failedStyle.Render("x"),
		"killed": killedStyle.Render("x"),
	}

	for _, tt := range tests {
		if got := CountStyle(tt.n).Render("x"); got != styles[tt.want] {
			t.Errorf("CountStyle(%d) rendered %q, want %s style", tt.n, got, tt.want)
		}
	}
}

// =============================================================================
// Tests: RenderField
// =============================================================================

func TestRenderField(t *testing.T) {
	result := RenderField("Label", "Value")

	if !strings.Contains(result, "Label:") {
		t.Error("result should contain label")
	}
	if !strings.Contains(result, "Value") {
		t.Error("result should contain value")
	}
}

// =============================================================================
// Tests: RenderBar
// =============================================================================

func TestRenderBar(t *testing.T) {
	tests := []struct {
		name    string
		frac    float64
		width   int
		full    int
		percent string
	}{
		{"0%", 0, 20, 0, "  0%"},
		{"50%", 0.5, 20, 10, " 50%"},
		{"100%", 1.0, 20, 20, "100%"},
		{"narrow", 0.5, 5, 5, " 50%"},
		{"over 100%", 1.5, 20, 20, "100%"},
		{"negative", -0.1, 20, 0, "  0%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RenderBar(tt.frac, tt.width)
			if !strings.Contains(result, tt.percent) {
				t.Errorf("result %q should contain %q", result, tt.percent)
			}
			if got := strings.Count(result, "█"); got != tt.full {
				t.Errorf("full cells = %d, want %d", got, tt.full)
			}
			if got := strings.Count(result, "█") + strings.Count(result, "░"); got != max(tt.width, 10) {
				t.Errorf("total cells = %d, want %d", got, max(tt.width, 10))
			}
		})
	}
}
