package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/invoicedesk/internal/audit/domain"
	auditrepository "github.com/smallbiznis/invoicedesk/internal/audit/repository"
	auditservice "github.com/smallbiznis/invoicedesk/internal/audit/service"
	catalogdomain "github.com/smallbiznis/invoicedesk/internal/catalog/domain"
	catalogrepository "github.com/smallbiznis/invoicedesk/internal/catalog/repository"
	clientdomain "github.com/smallbiznis/invoicedesk/internal/client/domain"
	clientrepository "github.com/smallbiznis/invoicedesk/internal/client/repository"
	"github.com/smallbiznis/invoicedesk/internal/clock"
	"github.com/smallbiznis/invoicedesk/internal/config"
	"github.com/smallbiznis/invoicedesk/internal/invoice/aggregate"
	invoicedomain "github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/smallbiznis/invoicedesk/internal/invoice/numbering"
	"github.com/smallbiznis/invoicedesk/internal/invoice/repository"
	obscontext "github.com/smallbiznis/invoicedesk/internal/observability/context"
	"github.com/smallbiznis/invoicedesk/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubDispatcher struct {
	sent []snowflake.ID
}

func (d *stubDispatcher) Send(_ context.Context, id snowflake.ID) (invoicedomain.DeliveryReceipt, error) {
	d.sent = append(d.sent, id)
	return invoicedomain.DeliveryReceipt{InvoiceID: id, MessageID: "m-1"}, nil
}

type stubRenderer struct {
	modes []invoicedomain.RenderMode
}

func (r *stubRenderer) Render(_ context.Context, agg invoicedomain.InvoiceAggregate, mode invoicedomain.RenderMode) (invoicedomain.RenderedDocument, error) {
	r.modes = append(r.modes, mode)
	return invoicedomain.RenderedDocument{Bytes: []byte("%PDF"), Filename: agg.Invoice.InvoiceNumber + ".pdf"}, nil
}

type fixture struct {
	db         *gorm.DB
	clock      *clock.FakeClock
	svc        *Service
	repo       invoicedomain.Repository
	dispatcher *stubDispatcher
	renderer   *stubRenderer
}

const (
	clientID  = "10"
	productID = "500"
)

func setup(t *testing.T, strategy string) *fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(
		&clientdomain.Client{},
		&catalogdomain.Product{},
		&invoicedomain.Invoice{},
		&invoicedomain.LineItem{},
		&invoicedomain.DeliveryReceipt{},
		&invoicedomain.NumberCounter{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC))
	cfg := config.Config{
		Numbering: config.NumberingConfig{
			Strategy:   strategy,
			Scope:      config.NumberingScopeGlobal,
			PadWidth:   3,
			MaxRetries: 3,
		},
		CatalogTimeout: time.Second,
	}

	repo := repository.Provide()
	clients := clientrepository.Provide()
	catalog := catalogrepository.Provide()
	f := &fixture{
		db:         conn,
		clock:      clk,
		repo:       repo,
		dispatcher: &stubDispatcher{},
		renderer:   &stubRenderer{},
	}
	f.svc = &Service{
		db:         conn,
		log:        zap.NewNop(),
		clock:      clk,
		genID:      node,
		repo:       repo,
		loader:     aggregate.NewLoader(repo, clientrepository.ProvideDirectory(clients)),
		numbering:  numbering.New(numbering.Params{Config: cfg, Log: zap.NewNop(), Clock: clk}),
		catalog:    catalog,
		directory:  clientrepository.ProvideDirectory(clients),
		dispatcher: f.dispatcher,
		renderer:   f.renderer,
		auditSvc: auditservice.NewService(auditservice.Params{
			DB: conn, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: auditrepository.Provide(),
		}),
		maxRetries:     cfg.Numbering.MaxRetries,
		catalogTimeout: cfg.CatalogTimeout,
	}

	ctx := context.Background()
	now := clk.Now()
	require.NoError(t, clients.Insert(ctx, conn, &clientdomain.Client{
		ID: 10, Name: "Jane Roe", Email: "jane@client.test", CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, catalog.Insert(ctx, conn, &catalogdomain.Product{
		ID: 500, SKU: "WID-1", Name: "Widget", Price: decimal.RequireFromString("8.50"), Active: true, CreatedAt: now, UpdatedAt: now,
	}))
	return f
}

func ptr(s string) *string { return &s }

func widgetAndShipping(price string) []invoicedomain.LineInput {
	return []invoicedomain.LineInput{
		{ProductID: ptr(productID), Quantity: 3, UnitPrice: decimal.RequireFromString(price)},
		{Description: "Shipping", Quantity: 1, UnitPrice: decimal.Zero},
	}
}

func createRequest(price string) invoicedomain.CreateRequest {
	return invoicedomain.CreateRequest{
		ClientID: clientID,
		TaxRate:  decimal.NewFromInt(19),
		Lines:    widgetAndShipping(price),
	}
}

func (f *fixture) setStatus(t *testing.T, id snowflake.ID, status invoicedomain.InvoiceStatus) {
	t.Helper()
	inv, err := f.repo.FindByID(context.Background(), f.db, id)
	require.NoError(t, err)
	inv.Status = status
	require.NoError(t, f.repo.UpdateStatus(context.Background(), f.db, inv))
}

func TestCreateComputesTotals(t *testing.T) {
	f := setup(t, config.NumberingStrategyCounter)
	ctx := obscontext.WithActor(context.Background(), "operator", "u-7")

	view, err := f.svc.Create(ctx, createRequest("8.50"))
	require.NoError(t, err)

	assert.Equal(t, "001", view.InvoiceNumber)
	assert.Equal(t, "global", view.NumberScope)
	assert.Equal(t, invoicedomain.InvoiceStatusPending, view.Status)
	assert.Equal(t, "u-7", view.CreatedBy)
	assert.Equal(t, "25.5", view.Subtotal.String())
	assert.Equal(t, "4.85", view.TaxAmount.String())
	assert.Equal(t, "30.35", view.Total.String())

	require.Len(t, view.Lines, 2)
	assert.Equal(t, "Widget", view.Lines[0].ProductName)
	assert.Equal(t, "WID-1", view.Lines[0].SKU)
	assert.Equal(t, invoicedomain.LineKindProduct, view.Lines[0].Kind)
	assert.Equal(t, invoicedomain.LineKindVirtual, view.Lines[1].Kind)

	second, err := f.svc.Create(ctx, createRequest("9.00"))
	require.NoError(t, err)
	assert.Equal(t, "002", second.InvoiceNumber)
}

func TestCreateRejectsPriceBelowFloor(t *testing.T) {
	f := setup(t, config.NumberingStrategyCounter)

	_, err := f.svc.Create(context.Background(), createRequest("7.00"))
	var floor *invoicedomain.FloorViolation
	require.ErrorAs(t, err, &floor)
	require.Len(t, floor.Offenders, 1)
	assert.Equal(t, "Widget", floor.Offenders[0].Name)
	assert.True(t, floor.Offenders[0].Floor.Equal(decimal.RequireFromString("8.50")))

	var count int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateValidation(t *testing.T) {
	f := setup(t, config.NumberingStrategyCounter)
	ctx := context.Background()

	req := createRequest("8.50")
	req.TaxRate = decimal.NewFromInt(150)
	_, err := f.svc.Create(ctx, req)
	var validation *invoicedomain.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "tax_rate", validation.Field)

	req = createRequest("8.50")
	req.Lines[1].Quantity = 0
	_, err = f.svc.Create(ctx, req)
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, 1, validation.Index)

	req = createRequest("8.50")
	req.Lines[0].ProductID = ptr("999")
	_, err = f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, invoicedomain.ErrProductNotFound)

	req = createRequest("8.50")
	req.ClientID = "11"
	_, err = f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, invoicedomain.ErrClientNotFound)

	req.ClientID = "abc"
	_, err = f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidClientID)
}

func TestCreateGivesUpOnPersistentNumberConflict(t *testing.T) {
	f := setup(t, config.NumberingStrategyCounter)
	now := f.clock.Now()
	// a row the counter does not know about
	require.NoError(t, f.repo.Insert(context.Background(), f.db, &invoicedomain.Invoice{
		ID: 1, NumberScope: "global", InvoiceNumber: "001", ClientID: 10,
		Status: invoicedomain.InvoiceStatusPending, IssueDate: now, TaxRate: decimal.Zero,
		CreatedAt: now, UpdatedAt: now,
	}))

	_, err := f.svc.Create(context.Background(), createRequest("8.50"))
	assert.ErrorIs(t, err, invoicedomain.ErrNumberConflict)
}

func TestScanStrategyContinuesAfterExistingNumbers(t *testing.T) {
	f := setup(t, config.NumberingStrategyScan)
	now := f.clock.Now()
	require.NoError(t, f.repo.Insert(context.Background(), f.db, &invoicedomain.Invoice{
		ID: 1, NumberScope: "global", InvoiceNumber: "041", ClientID: 10,
		Status: invoicedomain.InvoiceStatusPending, IssueDate: now, TaxRate: decimal.Zero,
		CreatedAt: now, UpdatedAt: now,
	}))

	view, err := f.svc.Create(context.Background(), createRequest("8.50"))
	require.NoError(t, err)
	assert.Equal(t, "042", view.InvoiceNumber)
}

func TestConcurrentCreatesGetDistinctNumbers(t *testing.T) {
	f := setup(t, config.NumberingStrategyCounter)

	const workers = 8
	var wg sync.WaitGroup
	numbers := make(chan string, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			view, err := f.svc.Create(context.Background(), createRequest("8.50"))
			if err != nil {
				errs <- err
				return
			}
			numbers <- view.InvoiceNumber
		}()
	}
	wg.Wait()
	close(numbers)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	seen := map[string]bool{}
	for number := range numbers {
		assert.False(t, seen[number], "duplicate number %s", number)
		seen[number] = true
	}
	assert.Len(t, seen, workers)
}

func TestGetIsIdempotent(t *testing.T) {
	f := setup(t, config.NumberingStrategyCounter)
	created, err := f.svc.Create(context.Background(), createRequest("8.50"))
	require.NoError(t, err)

	first, err := f.svc.Get(context.Background(), created.ID.String())
	require.NoError(t, err)
	second, err := f.svc.Get(context.Background(), created.ID.String())
	require.NoError(t, err)

	assert.Equal(t, first.Total.String(), second.Total.String())
	assert.Equal(t, first.Lines, second.Lines)

	_, err = f.svc.Get(context.Background(), "12345")
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
	_, err = f.svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidInvoiceID)
}

func TestReplaceLines(t *testing.T) {
	f := setup(t, config.NumberingStrategyCounter)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, createRequest("8.50"))
	require.NoError(t, err)
	id := created.ID.String()

	view, err := f.svc.ReplaceLines(ctx, invoicedomain.ReplaceLinesRequest{
		InvoiceID: id,
		Lines:     []invoicedomain.LineInput{{Description: "Setup fee", Quantity: 1, UnitPrice: decimal.NewFromInt(100)}},
	})
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
	assert.Equal(t, "119", view.Total.String())

	_, err = f.svc.ReplaceLines(ctx, invoicedomain.ReplaceLinesRequest{InvoiceID: id, Lines: widgetAndShipping("1.00")})
	var floor *invoicedomain.FloorViolation
	require.ErrorAs(t, err, &floor)

	unchanged, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, unchanged.Lines, 1)

	f.setStatus(t, created.ID, invoicedomain.InvoiceStatusSent)
	_, err = f.svc.ReplaceLines(ctx, invoicedomain.ReplaceLinesRequest{InvoiceID: id, Lines: widgetAndShipping("8.50")})
	assert.ErrorIs(t, err, invoicedomain.ErrNotEditable)

	_, err = f.svc.ReplaceLines(ctx, invoicedomain.ReplaceLinesRequest{
		InvoiceID: id, Lines: widgetAndShipping("8.50"), Override: true, Reason: "typo in quantity",
	})
	require.NoError(t, err)

	var logs []auditdomain.AuditLog
	require.NoError(t, f.db.Where("action = ?", auditdomain.ActionInvoiceLinesReplaced).Order("created_at asc, id asc").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.Equal(t, true, logs[1].Metadata["exception"])
}

func TestTransitions(t *testing.T) {
	f := setup(t, config.NumberingStrategyCounter)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, createRequest("8.50"))
	require.NoError(t, err)
	id := created.ID.String()

	_, err = f.svc.Transition(ctx, invoicedomain.TransitionRequest{InvoiceID: id, To: invoicedomain.InvoiceStatusSent})
	assert.ErrorIs(t, err, invoicedomain.ErrSentRequiresDispatch)
	_, err = f.svc.Transition(ctx, invoicedomain.TransitionRequest{InvoiceID: id, To: invoicedomain.InvoiceStatusSent, Override: true})
	assert.ErrorIs(t, err, invoicedomain.ErrSentRequiresDispatch)

	view, err := f.svc.Transition(ctx, invoicedomain.TransitionRequest{InvoiceID: id, To: invoicedomain.InvoiceStatusMaker})
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusMaker, view.Status)

	_, err = f.svc.Transition(ctx, invoicedomain.TransitionRequest{InvoiceID: id, To: invoicedomain.InvoiceStatusPaid})
	assert.ErrorIs(t, err, invoicedomain.ErrIllegalTransition)

	f.setStatus(t, created.ID, invoicedomain.InvoiceStatusSent)
	view, err = f.svc.Transition(ctx, invoicedomain.TransitionRequest{InvoiceID: id, To: invoicedomain.InvoiceStatusPaid})
	require.NoError(t, err)
	require.NotNil(t, view.PaidAt)

	view, err = f.svc.Transition(ctx, invoicedomain.TransitionRequest{
		InvoiceID: id, To: invoicedomain.InvoiceStatusPending, Override: true, Reason: "reissued",
	})
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPending, view.Status)
	assert.NotNil(t, view.PaidAt)

	var logs []auditdomain.AuditLog
	require.NoError(t, f.db.Where("action = ?", auditdomain.ActionInvoiceTransitioned).Find(&logs).Error)
	assert.Len(t, logs, 3)
}

func TestListFiltersByStatus(t *testing.T) {
	f := setup(t, config.NumberingStrategyCounter)
	ctx := context.Background()
	var ids []snowflake.ID
	for i := 0; i < 3; i++ {
		view, err := f.svc.Create(ctx, createRequest("8.50"))
		require.NoError(t, err)
		ids = append(ids, view.ID)
		f.clock.Advance(time.Minute)
	}
	f.setStatus(t, ids[0], invoicedomain.InvoiceStatusMaker)

	page, err := f.svc.List(ctx, invoicedomain.ListRequest{Status: "pending", Pagination: pagination.Pagination{PageSize: 1}})
	require.NoError(t, err)
	require.Len(t, page.Invoices, 1)
	assert.True(t, page.HasMore)
	assert.Equal(t, ids[2], page.Invoices[0].ID)
	assert.Equal(t, "30.35", page.Invoices[0].Total.String())

	next, err := f.svc.List(ctx, invoicedomain.ListRequest{Status: "pending", Pagination: pagination.Pagination{PageSize: 1, PageToken: page.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, next.Invoices, 1)
	assert.Equal(t, ids[1], next.Invoices[0].ID)
	assert.False(t, next.HasMore)

	_, err = f.svc.List(ctx, invoicedomain.ListRequest{Status: "archived"})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidStatus)
}

func TestSendRenderReceiptsDelete(t *testing.T) {
	f := setup(t, config.NumberingStrategyCounter)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, createRequest("8.50"))
	require.NoError(t, err)
	id := created.ID.String()

	_, err = f.svc.Send(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{created.ID}, f.dispatcher.sent)

	doc, err := f.svc.Render(ctx, id, invoicedomain.RenderModeInternal)
	require.NoError(t, err)
	assert.Equal(t, "001.pdf", doc.Filename)
	_, err = f.svc.Render(ctx, id, "poster")
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidMode)
	assert.Equal(t, []invoicedomain.RenderMode{invoicedomain.RenderModeInternal}, f.renderer.modes)

	receipts, err := f.svc.Receipts(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, receipts)

	require.NoError(t, f.svc.Delete(ctx, id))
	_, err = f.svc.Get(ctx, id)
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, id), invoicedomain.ErrInvoiceNotFound)
	_, err = f.svc.Receipts(ctx, id)
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
}
