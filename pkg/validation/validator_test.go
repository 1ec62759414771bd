package validation

import (
	"strings"
	"testing"
	"time"
)

func TestValidateKey(t *testing.T) {
	valid := []string{"a", "user:42", "docs/2026/report.json", "ключ", strings.Repeat("k", MaxKeyLength)}
	for _, k := range valid {
		if err := ValidateKey(k); err != nil {
			t.Errorf("ValidateKey(%.20q) = %v, want nil", k, err)
		}
	}

	invalid := []string{"", "has space", "tab\there", "nl\n", "\x00", string([]byte{0xff, 0xfe}), strings.Repeat("k", MaxKeyLength+1)}
	for _, k := range invalid {
		if err := ValidateKey(k); err == nil {
			t.Errorf("ValidateKey(%.20q) = nil, want error", k)
		}
	}
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		max     int
		wantErr bool
	}{
		{"object", `{"a":1}`, 0, false},
		{"string", `"text"`, 0, false},
		{"number", `42`, 0, false},
		{"empty", ``, 0, true},
		{"invalid", `{"a":`, 0, true},
		{"two values", `1 2`, 0, true},
		{"too large", `{"a":"0123456789"}`, 8, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument([]byte(tt.body), tt.max)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDocument(%q) error = %v, wantErr %v", tt.body, err, tt.wantErr)
			}
		})
	}
}

type taggedConfig struct {
	Name  string  `validate:"required"`
	Count int     `validate:"min=1"`
	Mode  string  `validate:"oneof=file s3"`
	Rate  float64 `validate:"gt=0"`
}

func TestStruct(t *testing.T) {
	good := taggedConfig{Name: "x", Count: 1, Mode: "file", Rate: 1}
	if err := Struct(good); err != nil {
		t.Fatalf("Struct(good) = %v", err)
	}

	tests := []struct {
		mutate func(*taggedConfig)
		want   string
	}{
		{func(c *taggedConfig) { c.Name = "" }, "field is required"},
		{func(c *taggedConfig) { c.Count = 0 }, "must be at least 1"},
		{func(c *taggedConfig) { c.Mode = "tape" }, "must be one of [file s3]"},
		{func(c *taggedConfig) { c.Rate = 0 }, "must be greater than 0"},
	}
	for _, tt := range tests {
		c := good
		tt.mutate(&c)
		err := Struct(c)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("Struct() = %v, want error containing %q", err, tt.want)
		}
	}
}

func TestConfigValidator(t *testing.T) {
	cv := NewConfigValidator("Config")
	cv.Required("Path", "").
		MinDuration("Interval", time.Millisecond, time.Second).
		NonNegativeFloat("Rate", -1).
		OneOf("Backend", "tape", []string{"file", "s3"}).
		When(false, func(v *ConfigValidator) { v.Required("Skipped", "") })

	if got := len(cv.Errors()); got != 4 {
		t.Fatalf("got %d errors, want 4: %v", got, cv.Errors())
	}
	if !strings.Contains(cv.Validate().Error(), "4 errors") {
		t.Errorf("Validate() = %v", cv.Validate())
	}

	ok := NewConfigValidator("Config").Required("Path", "x").Custom("Path", func() error { return nil })
	if ok.HasErrors() || ok.Validate() != nil {
		t.Errorf("unexpected errors: %v", ok.Errors())
	}
}
