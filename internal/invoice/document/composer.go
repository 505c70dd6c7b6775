// Package document turns a stored invoice into a renderable document and
// caches the resulting bytes by content hash.
package document

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/smallbiznis/invoicedesk/internal/cache"
	"github.com/smallbiznis/invoicedesk/internal/config"
	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/smallbiznis/invoicedesk/internal/invoice/render"
	"github.com/smallbiznis/invoicedesk/internal/observability/metrics"
	"github.com/smallbiznis/invoicedesk/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const contentTypePDF = "application/pdf"

// Renderer is the layout engine behind the composer.
type Renderer interface {
	Render(ctx context.Context, doc render.Document, mode render.Mode) (render.Output, error)
}

type Params struct {
	fx.In

	Config   config.Config
	Profiles *config.DocumentProfileHolder
	Renderer *render.Renderer
	Cache    cache.DocumentCache `optional:"true"`
	Metrics  *metrics.Metrics    `optional:"true"`
	Log      *zap.Logger
}

type Composer struct {
	profiles        *config.DocumentProfileHolder
	renderer        Renderer
	cache           cache.DocumentCache
	metrics         *metrics.Metrics
	log             *zap.Logger
	displayTemplate string
}

func NewComposer(p Params) *Composer {
	c := newComposer(p.Profiles, p.Renderer, p.Cache, p.Log)
	c.metrics = p.Metrics
	c.displayTemplate = p.Config.Numbering.DisplayTemplate
	return c
}

func newComposer(profiles *config.DocumentProfileHolder, renderer Renderer, docCache cache.DocumentCache, log *zap.Logger) *Composer {
	if docCache == nil {
		docCache = cache.NoopDocumentCache{}
	}
	return &Composer{
		profiles: profiles,
		renderer: renderer,
		cache:    docCache,
		log:      log.Named("invoice.document"),
	}
}

// ParseMode maps the outward render mode onto the renderer's.
func ParseMode(mode domain.RenderMode) (render.Mode, error) {
	switch domain.RenderMode(strings.ToLower(strings.TrimSpace(string(mode)))) {
	case domain.RenderModeClient, "":
		return render.ClientFacing, nil
	case domain.RenderModeInternal:
		return render.Internal, nil
	default:
		return 0, domain.ErrInvalidMode
	}
}

// Compose maps an invoice view and the current seller profile onto the
// renderer input.
func (c *Composer) Compose(view domain.InvoiceView) render.Document {
	profile := c.profiles.Get()

	lines := make([]render.Line, len(view.Lines))
	for i, line := range view.Lines {
		lines[i] = render.Line{
			Quantity:    line.Quantity,
			SKU:         line.SKU,
			Description: line.Label(),
			UnitPrice:   line.UnitPrice,
			Total:       line.LineTotal,
		}
	}

	doc := render.Document{
		Number:          view.DisplayNumber,
		IssueDate:       view.IssueDate,
		DueDate:         view.DueDate,
		ClientReference: view.ClientReference,
		Seller: render.Seller{
			Name:    profile.Seller.Name,
			Address: profile.Seller.Address,
			Email:   profile.Seller.Email,
			Phone:   profile.Seller.Phone,
			Website: profile.Seller.Website,
			TaxID:   profile.Seller.TaxID,
		},
		Recipient: render.Recipient{
			Name:    view.Client.Name,
			Company: view.Client.Company,
			Address: view.Client.AddressLines(),
			Email:   view.Client.Email,
		},
		Bank: render.Bank{
			AccountHolder: profile.Bank.AccountHolder,
			BankName:      profile.Bank.BankName,
			IBAN:          profile.Bank.IBAN,
			BIC:           profile.Bank.BIC,
		},
		Signature: profile.Signature,
		Lines:     lines,
		Subtotal:  view.Subtotal,
		TaxRate:   view.TaxRate,
		TaxAmount: view.TaxAmount,
		Total:     view.Total,
		Notes:     view.Notes,
		Locale:    profile.Locale,
		Currency:  profile.Currency,
		Font: render.Font{
			Family:  profile.Font.Family,
			Regular: profile.Font.Regular,
			Bold:    profile.Font.Bold,
		},
	}

	if profile.LogoPath != "" {
		logo, err := render.LoadLogo(profile.LogoPath)
		if err != nil {
			c.log.Warn("logo unavailable, using text letterhead",
				zap.String("path", profile.LogoPath),
				zap.Error(err),
			)
		} else {
			doc.Logo = logo
		}
	}
	return doc
}

// Render produces the PDF for an invoice. Identical inputs hit the cache.
func (c *Composer) Render(ctx context.Context, agg domain.InvoiceAggregate, mode domain.RenderMode) (out domain.RenderedDocument, err error) {
	renderMode, err := ParseMode(mode)
	if err != nil {
		return domain.RenderedDocument{}, err
	}

	ctx, span := tracing.StartSpan(ctx, "invoice.document.render",
		attribute.String("invoice.id", agg.Invoice.ID.String()),
		attribute.String("render.mode", renderMode.String()),
	)
	defer func() { tracing.EndSpan(span, err) }()

	view, err := BuildView(agg, c.displayTemplate)
	if err != nil {
		return domain.RenderedDocument{}, err
	}
	doc := c.Compose(view)
	filename := render.Filename(doc.Number, view.Client.DisplayName(), renderMode)

	key, err := CacheKey(doc, renderMode)
	if err != nil {
		return domain.RenderedDocument{}, fmt.Errorf("%w: %v", domain.ErrRenderFailed, err)
	}
	if data, ok := c.cache.Get(ctx, key); ok {
		c.metrics.RecordRender(ctx, renderMode.String(), true)
		span.SetAttributes(attribute.Bool("render.cached", true))
		// page count is not cached
		return rendered(data, filename, 0), nil
	}

	output, err := c.renderer.Render(ctx, doc, renderMode)
	if err != nil {
		return domain.RenderedDocument{}, err
	}
	c.cache.Set(ctx, key, output.Bytes)
	c.metrics.RecordRender(ctx, renderMode.String(), false)

	return rendered(output.Bytes, filename, output.Pages), nil
}

// CacheKey hashes the canonical render input. Document has only structs,
// slices and fixed-order fields, so its JSON encoding is stable.
func CacheKey(doc render.Document, mode render.Mode) (string, error) {
	payload, err := json.Marshal(struct {
		Mode     string          `json:"mode"`
		Document render.Document `json:"document"`
	}{Mode: mode.String(), Document: doc})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func rendered(data []byte, filename string, pages int) domain.RenderedDocument {
	sum := sha256.Sum256(data)
	return domain.RenderedDocument{
		Bytes:       data,
		Filename:    filename,
		ContentType: contentTypePDF,
		Pages:       pages,
		SHA256:      hex.EncodeToString(sum[:]),
	}
}
