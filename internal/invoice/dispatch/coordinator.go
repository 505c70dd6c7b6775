// Package dispatch sends a rendered invoice to the client and records the
// delivery. It is the only code path that moves an invoice into sent.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/invoicedesk/internal/audit/domain"
	"github.com/smallbiznis/invoicedesk/internal/cache"
	"github.com/smallbiznis/invoicedesk/internal/clock"
	"github.com/smallbiznis/invoicedesk/internal/config"
	"github.com/smallbiznis/invoicedesk/internal/invoice/aggregate"
	"github.com/smallbiznis/invoicedesk/internal/invoice/document"
	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/smallbiznis/invoicedesk/internal/invoice/lifecycle"
	"github.com/smallbiznis/invoicedesk/internal/observability/metrics"
	"github.com/smallbiznis/invoicedesk/internal/observability/tracing"
	"github.com/smallbiznis/invoicedesk/internal/providers/email"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DocumentRenderer produces the client-facing attachment.
type DocumentRenderer interface {
	Render(ctx context.Context, agg domain.InvoiceAggregate, mode domain.RenderMode) (domain.RenderedDocument, error)
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Config   config.Config
	Clock    clock.Clock
	GenID    *snowflake.Node
	Repo     domain.Repository
	Loader   *aggregate.Loader
	Composer *document.Composer
	Mailer   email.Provider
	Profiles *config.DocumentProfileHolder
	AuditSvc auditdomain.Service
	Locker   *cache.Locker          `optional:"true"`
	Metrics  *metrics.Metrics       `optional:"true"`
	Engine   *metrics.EngineMetrics `optional:"true"`
}

type Coordinator struct {
	db              *gorm.DB
	log             *zap.Logger
	clock           clock.Clock
	genID           *snowflake.Node
	repo            domain.Repository
	loader          *aggregate.Loader
	renderer        DocumentRenderer
	mailer          email.Provider
	profiles        *config.DocumentProfileHolder
	auditSvc        auditdomain.Service
	locker          *cache.Locker
	metrics         *metrics.Metrics
	engine          *metrics.EngineMetrics
	mailTimeout     time.Duration
	displayTemplate string
}

func NewCoordinator(p Params) *Coordinator {
	return &Coordinator{
		db:              p.DB,
		log:             p.Log.Named("invoice.dispatch"),
		clock:           p.Clock,
		genID:           p.GenID,
		repo:            p.Repo,
		loader:          p.Loader,
		renderer:        p.Composer,
		mailer:          p.Mailer,
		profiles:        p.Profiles,
		auditSvc:        p.AuditSvc,
		locker:          p.Locker,
		metrics:         p.Metrics,
		engine:          p.Engine,
		mailTimeout:     p.Config.Dispatch.MailTimeout,
		displayTemplate: p.Config.Numbering.DisplayTemplate,
	}
}

func fail(stage domain.DispatchStage, kind domain.ErrorKind, err error) *domain.DispatchError {
	return &domain.DispatchError{Stage: stage, Kind: kind, Err: err}
}

// Send renders and mails the invoice. The status only changes after the relay
// accepted at least one recipient. Every failure is a *domain.DispatchError.
func (c *Coordinator) Send(ctx context.Context, invoiceID snowflake.ID) (receipt domain.DeliveryReceipt, err error) {
	started := c.clock.Now()
	ctx, span := tracing.StartSpan(ctx, "invoice.dispatch.send",
		attribute.String("invoice.id", invoiceID.String()),
	)
	defer func() {
		var stage, kind string
		var dispatchErr *domain.DispatchError
		if errors.As(err, &dispatchErr) {
			stage, kind = string(dispatchErr.Stage), string(dispatchErr.Kind)
			span.SetAttributes(
				attribute.String("dispatch.stage", stage),
				attribute.String("dispatch.kind", kind),
			)
		}
		c.metrics.RecordDispatch(ctx, stage, kind)
		c.engine.ObserveDispatch(stage, kind, c.clock.Now().Sub(started))
		tracing.EndSpan(span, err)
	}()

	agg, dispatchErr := c.load(ctx, invoiceID)
	if dispatchErr != nil {
		return domain.DeliveryReceipt{}, dispatchErr
	}

	release, acquired, lockErr := c.locker.LockDispatch(ctx, invoiceID.String())
	if lockErr != nil {
		return domain.DeliveryReceipt{}, fail(domain.StageLoad, domain.KindTransient, fmt.Errorf("%w: %w", domain.ErrTransient, lockErr))
	}
	if !acquired {
		return domain.DeliveryReceipt{}, fail(domain.StageLoad, domain.KindConflict, domain.ErrDispatchInProgress)
	}
	defer release()

	if dispatchErr := c.verify(ctx); dispatchErr != nil {
		return domain.DeliveryReceipt{}, dispatchErr
	}

	doc, err := c.renderer.Render(ctx, agg, domain.RenderModeClient)
	if err != nil {
		kind := domain.KindInternal
		if errors.Is(err, domain.ErrFontUnavailable) {
			kind = domain.KindConfiguration
		}
		return domain.DeliveryReceipt{}, fail(domain.StageRender, kind, err)
	}

	view, err := document.BuildView(agg, c.displayTemplate)
	if err != nil {
		return domain.DeliveryReceipt{}, fail(domain.StageRender, domain.KindInternal, err)
	}
	profile := c.profiles.Get()
	msg, err := composeMessage(profile, view, doc, newMessageID(profile.Seller.Email))
	if err != nil {
		return domain.DeliveryReceipt{}, fail(domain.StageRender, domain.KindInternal, err)
	}

	result, dispatchErr := c.send(ctx, msg)
	if dispatchErr != nil {
		c.log.Warn("invoice dispatch not accepted",
			zap.String("invoice_id", invoiceID.String()),
			zap.String("message_id", msg.MessageID),
			zap.Error(dispatchErr),
		)
		return domain.DeliveryReceipt{}, dispatchErr
	}

	receipt = domain.DeliveryReceipt{
		ID:             c.genID.Generate(),
		InvoiceID:      invoiceID,
		MessageID:      msg.MessageID,
		Accepted:       result.Accepted,
		Rejected:       result.Rejected,
		Response:       result.Response,
		DocumentSHA256: doc.SHA256,
		SentAt:         c.clock.Now(),
	}
	if err := c.persist(ctx, &receipt); err != nil {
		c.log.Error("invoice was mailed but the delivery could not be recorded",
			zap.String("invoice_id", invoiceID.String()),
			zap.String("message_id", msg.MessageID),
			zap.Error(err),
		)
		return domain.DeliveryReceipt{}, err
	}

	c.log.Info("invoice dispatched",
		zap.String("invoice_id", invoiceID.String()),
		zap.String("message_id", receipt.MessageID),
		zap.Int("accepted", len(receipt.Accepted)),
		zap.Int("rejected", len(receipt.Rejected)),
	)
	return receipt, nil
}

func (c *Coordinator) load(ctx context.Context, invoiceID snowflake.ID) (domain.InvoiceAggregate, *domain.DispatchError) {
	agg, err := c.loader.Load(ctx, c.db, invoiceID)
	if err != nil {
		if errors.Is(err, domain.ErrInvoiceNotFound) || errors.Is(err, domain.ErrClientNotFound) {
			return domain.InvoiceAggregate{}, fail(domain.StageLoad, domain.KindNotFound, err)
		}
		return domain.InvoiceAggregate{}, fail(domain.StageLoad, domain.KindInternal, err)
	}
	if agg.Client.Email == "" {
		return domain.InvoiceAggregate{}, fail(domain.StageLoad, domain.KindValidation, domain.ErrNoRecipient)
	}
	return agg, nil
}

func (c *Coordinator) mailContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.mailTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.mailTimeout)
}

func (c *Coordinator) verify(ctx context.Context) *domain.DispatchError {
	mailCtx, cancel := c.mailContext(ctx)
	defer cancel()

	if err := c.mailer.Verify(mailCtx); err != nil {
		if errors.Is(err, email.ErrNotConfigured) {
			return fail(domain.StageVerify, domain.KindConfiguration, fmt.Errorf("%w: %w", domain.ErrMailNotConfigured, err))
		}
		return fail(domain.StageVerify, domain.KindTransient, fmt.Errorf("%w: %w", domain.ErrTransient, err))
	}
	return nil
}

func (c *Coordinator) send(ctx context.Context, msg email.Message) (email.Result, *domain.DispatchError) {
	mailCtx, cancel := c.mailContext(ctx)
	defer cancel()

	result, err := c.mailer.Send(mailCtx, msg)
	if err != nil {
		if errors.Is(err, email.ErrNotConfigured) {
			return email.Result{}, fail(domain.StageSend, domain.KindConfiguration, fmt.Errorf("%w: %w", domain.ErrMailNotConfigured, err))
		}
		if errors.Is(err, email.ErrMessageRejected) {
			return email.Result{}, fail(domain.StageSend, domain.KindRejected, fmt.Errorf("%w: %w", domain.ErrMessageRejected, err))
		}
		return email.Result{}, fail(domain.StageSend, domain.KindTransient, fmt.Errorf("%w: %w", domain.ErrTransient, err))
	}
	if len(result.Accepted) == 0 {
		if len(result.Rejected) > 0 {
			return result, fail(domain.StageSend, domain.KindRejected, fmt.Errorf("%w: %v", domain.ErrRecipientsRejected, result.Rejected))
		}
		return result, fail(domain.StageSend, domain.KindRejected, domain.ErrNoAcceptedRecipient)
	}
	return result, nil
}

// persist re-reads the invoice under lock so a concurrent transition is not
// overwritten, then marks it sent and stores the receipt.
func (c *Coordinator) persist(ctx context.Context, receipt *domain.DeliveryReceipt) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := c.repo.FindForUpdate(ctx, tx, receipt.InvoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return domain.ErrInvoiceNotFound
		}

		change, err := lifecycle.MarkSent(invoice, receipt, receipt.SentAt)
		if err != nil {
			return err
		}
		if err := c.repo.UpdateStatus(ctx, tx, invoice); err != nil {
			return err
		}
		if err := c.repo.InsertReceipt(ctx, tx, receipt); err != nil {
			return err
		}
		return c.auditSvc.Record(ctx, tx, auditdomain.Entry{
			Action:     auditdomain.ActionInvoiceSent,
			TargetType: auditdomain.TargetTypeInvoice,
			TargetID:   receipt.InvoiceID.String(),
			Metadata: map[string]any{
				"from":       string(change.From),
				"to":         string(change.To),
				"message_id": receipt.MessageID,
				"accepted":   []string(receipt.Accepted),
				"rejected":   []string(receipt.Rejected),
			},
		})
	})
	if err != nil {
		kind := domain.KindInternal
		if errors.Is(err, domain.ErrInvoiceNotFound) {
			kind = domain.KindNotFound
		}
		return fail(domain.StagePersist, kind, err)
	}
	return nil
}
