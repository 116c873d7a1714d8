package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		expectErr bool
	}{
		{"relative dir", "public", false},
		{"relative nested", "./public/img", false},
		{"absolute", "/srv/seismic/content.yaml", false},
		{"dotted name", "public/..hidden", false},
		{"empty", "", true},
		{"parent traversal", "../secrets", true},
		{"inner traversal", "public/../../etc", true},
		{"etc", "/etc/seismic", true},
		{"proc", "/proc/self/environ", true},
		{"shell char", "public;rm", true},
		{"nul byte", "public\x00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateOrigin(t *testing.T) {
	allowed := []string{"https://seismic.example", "localhost:8080"}

	tests := []struct {
		name      string
		origin    string
		expectErr bool
	}{
		{"exact origin", "https://seismic.example", false},
		{"host entry", "http://localhost:8080", false},
		{"missing", "", true},
		{"other host", "https://evil.example", true},
		{"scheme", "file://localhost:8080", true},
		{"lookalike", "https://seismic.example.evil", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrigin(tt.origin, allowed)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateFileExtension(t *testing.T) {
	allowed := []string{".css", ".png", ".JPG"}

	assert.NoError(t, ValidateFileExtension("site.css", allowed))
	assert.NoError(t, ValidateFileExtension("logos/ns.jpg", allowed))
	assert.NoError(t, ValidateFileExtension("LOGO.PNG", allowed))
	assert.Error(t, ValidateFileExtension("", allowed))
	assert.Error(t, ValidateFileExtension("Makefile", allowed))
	assert.Error(t, ValidateFileExtension("config.yaml", allowed))
}
