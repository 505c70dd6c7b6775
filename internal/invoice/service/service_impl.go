package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/invoicedesk/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/invoicedesk/internal/catalog/domain"
	clientdomain "github.com/smallbiznis/invoicedesk/internal/client/domain"
	"github.com/smallbiznis/invoicedesk/internal/clock"
	"github.com/smallbiznis/invoicedesk/internal/config"
	"github.com/smallbiznis/invoicedesk/internal/invoice/aggregate"
	"github.com/smallbiznis/invoicedesk/internal/invoice/dispatch"
	"github.com/smallbiznis/invoicedesk/internal/invoice/document"
	invoicedomain "github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/smallbiznis/invoicedesk/internal/invoice/lifecycle"
	"github.com/smallbiznis/invoicedesk/internal/invoice/numbering"
	"github.com/smallbiznis/invoicedesk/internal/invoice/totals"
	obscontext "github.com/smallbiznis/invoicedesk/internal/observability/context"
	"github.com/smallbiznis/invoicedesk/internal/observability/metrics"
	"github.com/smallbiznis/invoicedesk/pkg/db"
	"github.com/smallbiznis/invoicedesk/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dispatcher is the send path; it owns the move into sent.
type Dispatcher interface {
	Send(ctx context.Context, invoiceID snowflake.ID) (invoicedomain.DeliveryReceipt, error)
}

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Config     config.Config
	Clock      clock.Clock
	GenID      *snowflake.Node
	Repo       invoicedomain.Repository
	Loader     *aggregate.Loader
	Numbering  *numbering.Authority
	Catalog    catalogdomain.Repository
	Directory  clientdomain.Directory
	Dispatcher *dispatch.Coordinator
	Composer   *document.Composer
	AuditSvc   auditdomain.Service
	Metrics    *metrics.Metrics       `optional:"true"`
	Engine     *metrics.EngineMetrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	clock      clock.Clock
	genID      *snowflake.Node
	repo       invoicedomain.Repository
	loader     *aggregate.Loader
	numbering  *numbering.Authority
	catalog    totals.Catalog
	directory  clientdomain.Directory
	dispatcher Dispatcher
	renderer   dispatch.DocumentRenderer
	auditSvc   auditdomain.Service
	metrics    *metrics.Metrics
	engine     *metrics.EngineMetrics

	maxRetries      int
	catalogTimeout  time.Duration
	displayTemplate string
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("invoice.service"),

		clock:      p.Clock,
		genID:      p.GenID,
		repo:       p.Repo,
		loader:     p.Loader,
		numbering:  p.Numbering,
		catalog:    p.Catalog,
		directory:  p.Directory,
		dispatcher: p.Dispatcher,
		renderer:   p.Composer,
		auditSvc:   p.AuditSvc,
		metrics:    p.Metrics,
		engine:     p.Engine,

		maxRetries:      p.Config.Numbering.MaxRetries,
		catalogTimeout:  p.Config.CatalogTimeout,
		displayTemplate: p.Config.Numbering.DisplayTemplate,
	}
}

// Create issues a number and writes the invoice with its lines in one
// transaction. A duplicate number from a concurrent writer restarts the whole
// transaction, up to maxRetries times.
func (s *Service) Create(ctx context.Context, req invoicedomain.CreateRequest) (invoicedomain.InvoiceView, error) {
	clientID, err := parseID(req.ClientID, invoicedomain.ErrInvalidClientID)
	if err != nil {
		return invoicedomain.InvoiceView{}, err
	}
	if err := totals.ValidateRate(req.TaxRate); err != nil {
		return invoicedomain.InvoiceView{}, err
	}
	if err := totals.ValidateLines(req.Lines); err != nil {
		return invoicedomain.InvoiceView{}, err
	}
	if req.IssueDate != nil && req.DueDate != nil && req.DueDate.Before(*req.IssueDate) {
		return invoicedomain.InvoiceView{}, &invoicedomain.ValidationError{Index: -1, Field: "due_date", Reason: "must not be before the issue date"}
	}

	scope := s.numbering.ScopeFor(clientID)
	attempts := s.maxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var invoice invoicedomain.Invoice
	for attempt := 1; ; attempt++ {
		invoice, err = s.create(ctx, clientID, scope, req)
		if err == nil {
			break
		}
		if !db.IsDuplicateKeyErr(err) {
			var floor *invoicedomain.FloorViolation
			if errors.As(err, &floor) {
				s.engine.ObserveFloorViolation()
			}
			return invoicedomain.InvoiceView{}, err
		}
		s.engine.ObserveNumberRetry()
		s.log.Warn("invoice number taken, retrying",
			zap.String("scope", scope.String()),
			zap.Int("attempt", attempt),
		)
		if attempt >= attempts {
			return invoicedomain.InvoiceView{}, fmt.Errorf("%w: scope %s after %d attempts", invoicedomain.ErrNumberConflict, scope, attempt)
		}
	}

	s.metrics.RecordInvoiceIssued(ctx, s.numbering.Strategy(), scope.String())
	s.log.Info("invoice created",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("scope", scope.String()),
	)
	return s.view(ctx, invoice.ID)
}

func (s *Service) create(ctx context.Context, clientID snowflake.ID, scope numbering.Scope, req invoicedomain.CreateRequest) (invoicedomain.Invoice, error) {
	now := s.clock.Now()
	_, actorID := obscontext.ActorFromContext(ctx)

	issueDate := now
	if req.IssueDate != nil {
		issueDate = req.IssueDate.UTC()
	}

	invoice := invoicedomain.Invoice{
		ID:              s.genID.Generate(),
		NumberScope:     scope.String(),
		ClientID:        clientID,
		Status:          invoicedomain.InvoiceStatusPending,
		IssueDate:       issueDate,
		DueDate:         req.DueDate,
		TaxRate:         req.TaxRate,
		Notes:           strings.TrimSpace(req.Notes),
		ClientReference: strings.TrimSpace(req.ClientReference),
		CreatedBy:       actorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.directory.FindClient(ctx, tx, clientID); err != nil {
			if errors.Is(err, clientdomain.ErrNotFound) {
				return fmt.Errorf("%w: %s", invoicedomain.ErrClientNotFound, clientID)
			}
			return err
		}

		products, err := totals.CheckFloor(ctx, s.catalog, tx, req.Lines, s.catalogTimeout)
		if err != nil {
			return err
		}

		number, err := s.numbering.IssueNumber(ctx, tx, scope)
		if err != nil {
			return err
		}
		invoice.InvoiceNumber = number

		if err := s.repo.Insert(ctx, tx, &invoice); err != nil {
			return err
		}
		lines, err := s.buildLines(invoice.ID, req.Lines, products, now)
		if err != nil {
			return err
		}
		if err := s.repo.ReplaceLines(ctx, tx, invoice.ID, lines); err != nil {
			return err
		}

		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			Action:     auditdomain.ActionInvoiceCreated,
			TargetType: auditdomain.TargetTypeInvoice,
			TargetID:   invoice.ID.String(),
			Metadata: map[string]any{
				"invoice_number": invoice.InvoiceNumber,
				"number_scope":   invoice.NumberScope,
				"client_id":      clientID.String(),
				"lines":          len(lines),
			},
		})
	})
	return invoice, err
}

// ReplaceLines swaps the whole line set after the floor check, in the
// transaction that holds the invoice row.
func (s *Service) ReplaceLines(ctx context.Context, req invoicedomain.ReplaceLinesRequest) (invoicedomain.InvoiceView, error) {
	id, err := parseID(req.InvoiceID, invoicedomain.ErrInvalidInvoiceID)
	if err != nil {
		return invoicedomain.InvoiceView{}, err
	}
	if err := totals.ValidateLines(req.Lines); err != nil {
		return invoicedomain.InvoiceView{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.FindForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		editable := lifecycle.Editable(invoice.Status)
		if !editable && !req.Override {
			return fmt.Errorf("%w: status %s", invoicedomain.ErrNotEditable, invoice.Status)
		}

		products, err := totals.CheckFloor(ctx, s.catalog, tx, req.Lines, s.catalogTimeout)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		lines, err := s.buildLines(id, req.Lines, products, now)
		if err != nil {
			return err
		}
		if err := s.repo.ReplaceLines(ctx, tx, id, lines); err != nil {
			return err
		}
		invoice.UpdatedAt = now
		if err := s.repo.Touch(ctx, tx, invoice); err != nil {
			return err
		}

		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			Action:     auditdomain.ActionInvoiceLinesReplaced,
			TargetType: auditdomain.TargetTypeInvoice,
			TargetID:   id.String(),
			Metadata: map[string]any{
				"status":    string(invoice.Status),
				"lines":     len(lines),
				"override":  req.Override,
				"exception": !editable,
				"reason":    strings.TrimSpace(req.Reason),
			},
		})
	})
	if err != nil {
		var floor *invoicedomain.FloorViolation
		if errors.As(err, &floor) {
			s.engine.ObserveFloorViolation()
		}
		return invoicedomain.InvoiceView{}, err
	}
	return s.view(ctx, id)
}

func (s *Service) Get(ctx context.Context, id string) (invoicedomain.InvoiceView, error) {
	invoiceID, err := parseID(id, invoicedomain.ErrInvalidInvoiceID)
	if err != nil {
		return invoicedomain.InvoiceView{}, err
	}
	return s.view(ctx, invoiceID)
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListRequest) (invoicedomain.ListResponse, error) {
	var filter invoicedomain.ListFilter
	if status := strings.TrimSpace(req.Status); status != "" {
		parsed, err := invoicedomain.ParseStatus(status)
		if err != nil {
			return invoicedomain.ListResponse{}, err
		}
		filter.Status = parsed
	}
	if clientID := strings.TrimSpace(req.ClientID); clientID != "" {
		parsed, err := parseID(clientID, invoicedomain.ErrInvalidClientID)
		if err != nil {
			return invoicedomain.ListResponse{}, err
		}
		filter.ClientID = parsed
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return invoicedomain.ListResponse{}, err
	}
	limit := req.Limit()

	rows, err := s.repo.List(ctx, s.db, filter, cursor, limit)
	if err != nil {
		return invoicedomain.ListResponse{}, err
	}
	rows, pageInfo, err := pagination.BuildCursorPageInfo(rows, limit, func(inv invoicedomain.Invoice) pagination.Cursor {
		return pagination.Cursor{ID: int64(inv.ID), CreatedAt: inv.CreatedAt}
	})
	if err != nil {
		return invoicedomain.ListResponse{}, err
	}

	aggregates, err := s.loader.LoadMany(ctx, s.db, rows)
	if err != nil {
		return invoicedomain.ListResponse{}, err
	}
	views := make([]invoicedomain.InvoiceView, 0, len(aggregates))
	for _, agg := range aggregates {
		view, err := document.BuildView(agg, s.displayTemplate)
		if err != nil {
			return invoicedomain.ListResponse{}, err
		}
		views = append(views, view)
	}

	return invoicedomain.ListResponse{PageInfo: pageInfo, Invoices: views}, nil
}

// Transition is the operator's direct status write. Entering sent is only
// possible through Send.
func (s *Service) Transition(ctx context.Context, req invoicedomain.TransitionRequest) (invoicedomain.InvoiceView, error) {
	id, err := parseID(req.InvoiceID, invoicedomain.ErrInvalidInvoiceID)
	if err != nil {
		return invoicedomain.InvoiceView{}, err
	}

	var change lifecycle.Change
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.FindForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}

		change, err = lifecycle.Transition(invoice, req.To, req.Override, s.clock.Now())
		if err != nil {
			return err
		}
		if err := s.repo.UpdateStatus(ctx, tx, invoice); err != nil {
			return err
		}

		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			Action:     auditdomain.ActionInvoiceTransitioned,
			TargetType: auditdomain.TargetTypeInvoice,
			TargetID:   id.String(),
			Metadata: map[string]any{
				"from":      string(change.From),
				"to":        string(change.To),
				"override":  req.Override,
				"exception": change.Exception,
				"reason":    strings.TrimSpace(req.Reason),
			},
		})
	})
	if err != nil {
		return invoicedomain.InvoiceView{}, err
	}

	s.metrics.RecordTransition(ctx, string(change.From), string(change.To), change.Exception)
	s.engine.ObserveTransition(string(change.From), string(change.To), change.Exception)
	if change.Exception {
		s.log.Warn("invoice transition outside the regular flow",
			zap.String("invoice_id", id.String()),
			zap.String("from", string(change.From)),
			zap.String("to", string(change.To)),
		)
	}
	return s.view(ctx, id)
}

func (s *Service) Send(ctx context.Context, id string) (invoicedomain.DeliveryReceipt, error) {
	invoiceID, err := parseID(id, invoicedomain.ErrInvalidInvoiceID)
	if err != nil {
		return invoicedomain.DeliveryReceipt{}, err
	}
	return s.dispatcher.Send(ctx, invoiceID)
}

func (s *Service) Render(ctx context.Context, id string, mode invoicedomain.RenderMode) (invoicedomain.RenderedDocument, error) {
	invoiceID, err := parseID(id, invoicedomain.ErrInvalidInvoiceID)
	if err != nil {
		return invoicedomain.RenderedDocument{}, err
	}
	if _, err := document.ParseMode(mode); err != nil {
		return invoicedomain.RenderedDocument{}, err
	}

	agg, err := s.loader.Load(ctx, s.db, invoiceID)
	if err != nil {
		return invoicedomain.RenderedDocument{}, err
	}
	return s.renderer.Render(ctx, agg, mode)
}

func (s *Service) Receipts(ctx context.Context, id string) ([]invoicedomain.DeliveryReceipt, error) {
	invoiceID, err := parseID(id, invoicedomain.ErrInvalidInvoiceID)
	if err != nil {
		return nil, err
	}
	invoice, err := s.repo.FindByID(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return s.repo.ListReceipts(ctx, s.db, invoiceID)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	invoiceID, err := parseID(id, invoicedomain.ErrInvalidInvoiceID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.FindForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if err := s.repo.Delete(ctx, tx, invoiceID); err != nil {
			return err
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			Action:     auditdomain.ActionInvoiceDeleted,
			TargetType: auditdomain.TargetTypeInvoice,
			TargetID:   invoiceID.String(),
			Metadata: map[string]any{
				"invoice_number": invoice.InvoiceNumber,
				"status":         string(invoice.Status),
			},
		})
	})
}

func (s *Service) view(ctx context.Context, id snowflake.ID) (invoicedomain.InvoiceView, error) {
	agg, err := s.loader.Load(ctx, s.db, id)
	if err != nil {
		return invoicedomain.InvoiceView{}, err
	}
	return document.BuildView(agg, s.displayTemplate)
}

// buildLines snapshots catalog name and SKU onto product lines so later
// catalog edits never change an issued invoice.
func (s *Service) buildLines(invoiceID snowflake.ID, inputs []invoicedomain.LineInput, products map[int]*catalogdomain.Product, now time.Time) ([]invoicedomain.LineItem, error) {
	lines := make([]invoicedomain.LineItem, 0, len(inputs))
	for i, input := range inputs {
		line := invoicedomain.LineItem{
			ID:          s.genID.Generate(),
			InvoiceID:   invoiceID,
			Position:    i,
			SKU:         strings.TrimSpace(input.SKU),
			ProductName: strings.TrimSpace(input.Name),
			Description: strings.TrimSpace(input.Description),
			Quantity:    input.Quantity,
			UnitPrice:   input.UnitPrice,
			CreatedAt:   now,
		}
		if input.ProductID != nil {
			productID, err := parseID(*input.ProductID, nil)
			if err != nil {
				return nil, &invoicedomain.ValidationError{Index: i, Field: "product_id", Reason: "is not a valid id"}
			}
			line.ProductID = &productID
			if product := products[i]; product != nil {
				if line.SKU == "" {
					line.SKU = product.SKU
				}
				if line.ProductName == "" {
					line.ProductName = product.Name
				}
			}
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func parseID(raw string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		if invalid == nil {
			return 0, errors.New("invalid id")
		}
		return 0, invalid
	}
	return id, nil
}
