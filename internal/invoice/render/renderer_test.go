package render

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
)

func newTestRenderer() *Renderer {
	return NewRenderer(Params{Log: zap.NewNop()})
}

func TestRenderProducesPDF(t *testing.T) {
	out, err := newTestRenderer().Render(context.Background(), sampleDocument(4), ClientFacing)
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(out.Bytes, []byte("%PDF")))
	assert.Equal(t, 1, out.Pages)
	assert.Equal(t, "invoice-042-beispiel-ag.pdf", out.Filename)
}

func TestRenderMultiPage(t *testing.T) {
	out, err := newTestRenderer().Render(context.Background(), sampleDocument(150), Internal)
	require.NoError(t, err)

	assert.Greater(t, out.Pages, 1)
	assert.Equal(t, "invoice-042-beispiel-ag-no-prices.pdf", out.Filename)
}

func TestRenderMissingFontFails(t *testing.T) {
	doc := sampleDocument(1)
	doc.Font = Font{Family: "dejavu", Regular: "/nonexistent/DejaVuSans.ttf", Bold: "/nonexistent/DejaVuSans-Bold.ttf"}

	out, err := newTestRenderer().Render(context.Background(), doc, ClientFacing)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFontUnavailable)
	assert.Empty(t, out.Bytes)
}

func TestRenderWithLogo(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	logo, err := DecodeLogo(buf.Bytes())
	require.NoError(t, err)

	doc := sampleDocument(2)
	doc.Logo = logo
	out, err := newTestRenderer().Render(context.Background(), doc, ClientFacing)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Bytes)
}

func TestDecodeLogoRejectsGarbage(t *testing.T) {
	_, err := DecodeLogo([]byte("not an image"))
	assert.ErrorIs(t, err, ErrUnsupportedLogo)

	_, err = LoadLogo("")
	assert.Error(t, err)
}

func TestRenderWithCustomFont(t *testing.T) {
	doc := sampleDocument(30)
	doc.Font = dejaVu
	doc.Recipient.Company = "Łódź Müller Sp. z o.o."

	out, err := newTestRenderer().Render(context.Background(), doc, ClientFacing)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out.Bytes, []byte("%PDF")))
}

func TestRenderBrokenFontFailsBeforeEmitting(t *testing.T) {
	broken := filepath.Join(t.TempDir(), "broken.ttf")
	require.NoError(t, os.WriteFile(broken, []byte("not a font"), 0o600))

	doc := sampleDocument(1)
	doc.Font = Font{Family: "broken", Regular: broken, Bold: broken}
	out, err := newTestRenderer().Render(context.Background(), doc, ClientFacing)
	assert.ErrorIs(t, err, domain.ErrFontUnavailable)
	assert.Empty(t, out.Bytes)
}

// The two renders straddle a wall-clock second so any timestamp taken at
// generation time would show up as a byte difference.
func TestRenderIsByteIdentical(t *testing.T) {
	r := newTestRenderer()
	doc := sampleDocument(40)
	doc.Notes = "Payable within 14 days."

	first, err := r.Render(context.Background(), doc, ClientFacing)
	require.NoError(t, err)

	time.Sleep(time.Until(time.Now().Truncate(time.Second).Add(time.Second + 50*time.Millisecond)))

	second, err := r.Render(context.Background(), doc, ClientFacing)
	require.NoError(t, err)

	assert.Equal(t, first.Pages, second.Pages)
	assert.True(t, bytes.Equal(first.Bytes, second.Bytes), "renders differ")
	assert.Contains(t, string(first.Bytes), "/ModDate (D:19700101000000")
}
