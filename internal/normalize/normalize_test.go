package normalize_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nucleus/geo-linker/internal/normalize"
)

func TestText_LowercasesInput(t *testing.T) {
	assert.Equal(t, "lung cancer", normalize.Text("LUNG CANCER"))
}

func TestText_CollapsesPunctuationAndWhitespace(t *testing.T) {
	assert.Equal(t, "non small cell lung cancer", normalize.Text("non-small-cell   lung, cancer!"))
}

func TestText_TrimsLeadingAndTrailingWhitespace(t *testing.T) {
	assert.Equal(t, "tumor", normalize.Text("  tumor  "))
}

func TestText_EmptyStringYieldsEmptyString(t *testing.T) {
	assert.Equal(t, "", normalize.Text(""))
}

func TestText_IsIdempotent(t *testing.T) {
	once := normalize.Text("Breast-Cancer, Stage II")
	twice := normalize.Text(once)
	assert.Equal(t, once, twice)
}

func TestText_DifferentInputsProducingSameKeyCollapseTogether(t *testing.T) {
	a := normalize.Text("lung cancer")
	b := normalize.Text("Lung   Cancer")
	c := normalize.Text("LUNG-CANCER")
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
}
