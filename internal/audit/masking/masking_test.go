package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "e****@beispiel.test", MaskEmail("erika@beispiel.test"))
	assert.Equal(t, "****", MaskEmail("abc"))
}

func TestMaskJSONOnlyTouchesSensitiveKeys(t *testing.T) {
	out := MaskJSON(map[string]any{
		"from":     "sent",
		"accepted": []string{"a@b.test"},
		"iban":     "DE02120300000000202051",
		"nested":   map[string]any{"email": "x@y.test"},
		"":         "dropped",
	})

	assert.Equal(t, "sent", out["from"])
	assert.Equal(t, []string{"a****@b.test"}, out["accepted"])
	assert.Equal(t, "****2051", out["iban"])
	assert.Equal(t, map[string]any{"email": "x****@y.test"}, out["nested"])
	assert.NotContains(t, out, "")
	assert.Nil(t, MaskJSON(nil))
}
