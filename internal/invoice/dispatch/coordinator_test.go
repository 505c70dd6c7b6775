package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/invoicedesk/internal/audit/domain"
	auditrepository "github.com/smallbiznis/invoicedesk/internal/audit/repository"
	auditservice "github.com/smallbiznis/invoicedesk/internal/audit/service"
	"github.com/smallbiznis/invoicedesk/internal/cache"
	clientdomain "github.com/smallbiznis/invoicedesk/internal/client/domain"
	clientrepository "github.com/smallbiznis/invoicedesk/internal/client/repository"
	"github.com/smallbiznis/invoicedesk/internal/clock"
	"github.com/smallbiznis/invoicedesk/internal/config"
	"github.com/smallbiznis/invoicedesk/internal/invoice/aggregate"
	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/smallbiznis/invoicedesk/internal/invoice/repository"
	"github.com/smallbiznis/invoicedesk/internal/providers/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeMailer struct {
	mu        sync.Mutex
	verifyErr error
	sendErr   error
	rejectAll bool
	sent      []email.Message
}

func (m *fakeMailer) Verify(context.Context) error { return m.verifyErr }

func (m *fakeMailer) Send(_ context.Context, msg email.Message) (email.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return email.Result{}, m.sendErr
	}
	m.sent = append(m.sent, msg)
	if m.rejectAll {
		return email.Result{Rejected: msg.To}, nil
	}
	return email.Result{Accepted: msg.To, Response: "250 queued"}, nil
}

type fakeRenderer struct {
	err   error
	modes []domain.RenderMode
}

func (r *fakeRenderer) Render(_ context.Context, agg domain.InvoiceAggregate, mode domain.RenderMode) (domain.RenderedDocument, error) {
	r.modes = append(r.modes, mode)
	if r.err != nil {
		return domain.RenderedDocument{}, r.err
	}
	return domain.RenderedDocument{
		Bytes:       []byte("%PDF-1.3 fake"),
		Filename:    "invoice-" + agg.Invoice.InvoiceNumber + ".pdf",
		ContentType: "application/pdf",
		SHA256:      "abc123",
	}, nil
}

type fixture struct {
	db       *gorm.DB
	clock    *clock.FakeClock
	mailer   *fakeMailer
	renderer *fakeRenderer
	repo     domain.Repository
	coord    *Coordinator
}

func setup(t *testing.T) *fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(
		&clientdomain.Client{},
		&domain.Invoice{},
		&domain.LineItem{},
		&domain.DeliveryReceipt{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	repo := repository.Provide()
	clients := clientrepository.Provide()
	audit := auditservice.NewService(auditservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: auditrepository.Provide(),
	})

	f := &fixture{
		db:       conn,
		clock:    clk,
		mailer:   &fakeMailer{},
		renderer: &fakeRenderer{},
		repo:     repo,
	}
	f.coord = &Coordinator{
		db:       conn,
		log:      zap.NewNop(),
		clock:    clk,
		genID:    node,
		repo:     repo,
		loader:   aggregate.NewLoader(repo, clientrepository.ProvideDirectory(clients)),
		renderer: f.renderer,
		mailer:   f.mailer,
		profiles: config.NewStaticDocumentProfileHolder(config.DocumentProfile{
			Seller:    config.SellerProfile{Name: "Muster GmbH", Email: "billing@muster.test"},
			Signature: []string{"Mit freundlichen Grüßen"},
			Locale:    "de-DE",
			Currency:  "EUR",
		}),
		auditSvc:    audit,
		mailTimeout: time.Second,
	}

	ctx := context.Background()
	require.NoError(t, clients.Insert(ctx, conn, &clientdomain.Client{
		ID: 10, Name: "Erika Mustermann", Email: "erika@client.test", CreatedAt: clk.Now(), UpdatedAt: clk.Now(),
	}))
	require.NoError(t, clients.Insert(ctx, conn, &clientdomain.Client{
		ID: 11, Name: "No Mail", CreatedAt: clk.Now(), UpdatedAt: clk.Now(),
	}))
	return f
}

func (f *fixture) invoice(t *testing.T, id snowflake.ID, clientID snowflake.ID, status domain.InvoiceStatus) {
	t.Helper()
	now := f.clock.Now()
	require.NoError(t, f.repo.Insert(context.Background(), f.db, &domain.Invoice{
		ID:            id,
		NumberScope:   "global",
		InvoiceNumber: "00" + id.String(),
		ClientID:      clientID,
		Status:        status,
		IssueDate:     now,
		TaxRate:       decimal.NewFromInt(19),
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
	require.NoError(t, f.repo.ReplaceLines(context.Background(), f.db, id, []domain.LineItem{
		{ID: id * 100, InvoiceID: id, Description: "Consulting", Quantity: 3, UnitPrice: decimal.RequireFromString("8.50"), CreatedAt: now},
	}))
}

func (f *fixture) status(t *testing.T, id snowflake.ID) *domain.Invoice {
	t.Helper()
	inv, err := f.repo.FindByID(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, inv)
	return inv
}

func requireDispatchError(t *testing.T, err error, stage domain.DispatchStage, kind domain.ErrorKind) *domain.DispatchError {
	t.Helper()
	var dispatchErr *domain.DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, stage, dispatchErr.Stage)
	assert.Equal(t, kind, dispatchErr.Kind)
	return dispatchErr
}

func TestSendMarksInvoiceSent(t *testing.T) {
	f := setup(t)
	f.invoice(t, 7, 10, domain.InvoiceStatusPending)

	receipt, err := f.coord.Send(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, []string{"erika@client.test"}, []string(receipt.Accepted))
	assert.Equal(t, "abc123", receipt.DocumentSHA256)
	assert.Contains(t, receipt.MessageID, "@muster.test")
	assert.Equal(t, []domain.RenderMode{domain.RenderModeClient}, f.renderer.modes)

	inv := f.status(t, 7)
	assert.Equal(t, domain.InvoiceStatusSent, inv.Status)
	require.NotNil(t, inv.SentAt)
	assert.True(t, inv.SentAt.Equal(f.clock.Now()))

	receipts, err := f.repo.ListReceipts(context.Background(), f.db, 7)
	require.NoError(t, err)
	assert.Len(t, receipts, 1)

	require.Len(t, f.mailer.sent, 1)
	msg := f.mailer.sent[0]
	assert.Equal(t, "Rechnung 007 von Muster GmbH", msg.Subject)
	assert.Contains(t, msg.TextBody, "30,35")
	assert.Contains(t, msg.HTMLBody, "Grüßen")
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "invoice-007.pdf", msg.Attachments[0].Filename)

	var logs []auditdomain.AuditLog
	require.NoError(t, f.db.Where("action = ?", auditdomain.ActionInvoiceSent).Find(&logs).Error)
	assert.Len(t, logs, 1)
}

func TestRejectedSendLeavesStatus(t *testing.T) {
	f := setup(t)
	f.invoice(t, 7, 10, domain.InvoiceStatusMaker)
	f.mailer.rejectAll = true

	_, err := f.coord.Send(context.Background(), 7)
	dispatchErr := requireDispatchError(t, err, domain.StageSend, domain.KindRejected)
	assert.ErrorIs(t, err, domain.ErrRecipientsRejected)
	assert.False(t, dispatchErr.Retryable())

	inv := f.status(t, 7)
	assert.Equal(t, domain.InvoiceStatusMaker, inv.Status)
	assert.Nil(t, inv.SentAt)

	receipts, err := f.repo.ListReceipts(context.Background(), f.db, 7)
	require.NoError(t, err)
	assert.Empty(t, receipts)
}

func TestRefusedMessageIsRejectedNotTransient(t *testing.T) {
	f := setup(t)
	f.invoice(t, 7, 10, domain.InvoiceStatusPending)
	f.mailer.sendErr = fmt.Errorf("%w: smtp end of data: 554 5.7.1 message content rejected", email.ErrMessageRejected)

	_, err := f.coord.Send(context.Background(), 7)
	dispatchErr := requireDispatchError(t, err, domain.StageSend, domain.KindRejected)
	assert.ErrorIs(t, err, domain.ErrMessageRejected)
	assert.NotErrorIs(t, err, domain.ErrTransient)
	assert.False(t, dispatchErr.Retryable())
	assert.Equal(t, domain.InvoiceStatusPending, f.status(t, 7).Status)
}

func TestMailNotConfiguredIsFatal(t *testing.T) {
	f := setup(t)
	f.invoice(t, 7, 10, domain.InvoiceStatusPending)
	f.mailer.verifyErr = email.ErrNotConfigured

	_, err := f.coord.Send(context.Background(), 7)
	dispatchErr := requireDispatchError(t, err, domain.StageVerify, domain.KindConfiguration)
	assert.ErrorIs(t, err, domain.ErrMailNotConfigured)
	assert.False(t, dispatchErr.Retryable())
	assert.Empty(t, f.renderer.modes)
}

func TestTransientFailuresAreRetryable(t *testing.T) {
	f := setup(t)
	f.invoice(t, 7, 10, domain.InvoiceStatusPending)

	f.mailer.verifyErr = errors.New("dial tcp: connection refused")
	_, err := f.coord.Send(context.Background(), 7)
	dispatchErr := requireDispatchError(t, err, domain.StageVerify, domain.KindTransient)
	assert.True(t, dispatchErr.Retryable())

	f.mailer.verifyErr = nil
	f.mailer.sendErr = errors.New("i/o timeout")
	_, err = f.coord.Send(context.Background(), 7)
	dispatchErr = requireDispatchError(t, err, domain.StageSend, domain.KindTransient)
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.True(t, dispatchErr.Retryable())
	assert.Equal(t, domain.InvoiceStatusPending, f.status(t, 7).Status)
}

func TestLoadFailures(t *testing.T) {
	f := setup(t)
	f.invoice(t, 8, 11, domain.InvoiceStatusPending)

	_, err := f.coord.Send(context.Background(), 99)
	requireDispatchError(t, err, domain.StageLoad, domain.KindNotFound)
	assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)

	_, err = f.coord.Send(context.Background(), 8)
	requireDispatchError(t, err, domain.StageLoad, domain.KindValidation)
	assert.ErrorIs(t, err, domain.ErrNoRecipient)
}

func TestFontFailureIsConfiguration(t *testing.T) {
	f := setup(t)
	f.invoice(t, 7, 10, domain.InvoiceStatusPending)
	f.renderer.err = domain.ErrFontUnavailable

	_, err := f.coord.Send(context.Background(), 7)
	requireDispatchError(t, err, domain.StageRender, domain.KindConfiguration)
	assert.Empty(t, f.mailer.sent)
}

func TestResendKeepsLaterStatus(t *testing.T) {
	f := setup(t)
	f.invoice(t, 7, 10, domain.InvoiceStatusPaid)

	_, err := f.coord.Send(context.Background(), 7)
	require.NoError(t, err)

	inv := f.status(t, 7)
	assert.Equal(t, domain.InvoiceStatusPaid, inv.Status)
	assert.NotNil(t, inv.SentAt)
}

func TestConcurrentSendIsRejected(t *testing.T) {
	f := setup(t)
	f.invoice(t, 7, 10, domain.InvoiceStatusPending)

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := cache.NewLocker(client, config.Config{Redis: config.RedisConfig{Addr: server.Addr()}})
	f.coord.locker = locker

	release, ok, err := locker.LockDispatch(context.Background(), "7")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.coord.Send(context.Background(), 7)
	dispatchErr := requireDispatchError(t, err, domain.StageLoad, domain.KindConflict)
	assert.ErrorIs(t, err, domain.ErrDispatchInProgress)
	assert.True(t, dispatchErr.Retryable())
	assert.Empty(t, f.mailer.sent)

	release()
	_, err = f.coord.Send(context.Background(), 7)
	assert.NoError(t, err)
}
