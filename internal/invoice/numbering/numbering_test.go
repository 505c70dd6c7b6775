package numbering

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	clientdomain "github.com/smallbiznis/invoicedesk/internal/client/domain"
	"github.com/smallbiznis/invoicedesk/internal/clock"
	"github.com/smallbiznis/invoicedesk/internal/config"
	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/smallbiznis/invoicedesk/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var issueDate = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&clientdomain.Client{}, &domain.Invoice{}, &domain.NumberCounter{}))
	return conn
}

func newAuthority(strategy, scope string, pad int) *Authority {
	return New(Params{
		Config: config.Config{Numbering: config.NumberingConfig{
			Strategy: strategy,
			Scope:    scope,
			PadWidth: pad,
		}},
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(issueDate),
	})
}

func insertInvoice(t *testing.T, tx *gorm.DB, id int64, scope Scope, number string) error {
	t.Helper()
	return tx.Create(&domain.Invoice{
		ID:            snowflake.ID(id),
		NumberScope:   scope.String(),
		InvoiceNumber: number,
		ClientID:      1,
		Status:        domain.InvoiceStatusPending,
		IssueDate:     issueDate,
		TaxRate:       decimal.Zero,
		CreatedAt:     issueDate,
		UpdatedAt:     issueDate,
	}).Error
}

func TestCounterIssuesPaddedSequence(t *testing.T) {
	conn := setupDB(t)
	authority := newAuthority(config.NumberingStrategyCounter, config.NumberingScopeGlobal, 3)

	var got []string
	for i := 0; i < 3; i++ {
		number, err := authority.IssueNumber(context.Background(), conn, GlobalScope())
		require.NoError(t, err)
		got = append(got, number)
	}

	assert.Equal(t, []string{"001", "002", "003"}, got)
}

func TestCounterScopesAreIndependent(t *testing.T) {
	conn := setupDB(t)
	now := issueDate
	require.NoError(t, conn.Create(&clientdomain.Client{ID: 5, Name: "A", CreatedAt: now, UpdatedAt: now}).Error)
	authority := newAuthority(config.NumberingStrategyCounter, config.NumberingScopeClient, 3)

	first, err := authority.IssueNumber(context.Background(), conn, ClientScope(5))
	require.NoError(t, err)
	second, err := authority.IssueNumber(context.Background(), conn, ClientScope(5))
	require.NoError(t, err)
	other, err := authority.IssueNumber(context.Background(), conn, ClientScope(6))
	require.NoError(t, err)

	assert.Equal(t, "001", first)
	assert.Equal(t, "002", second)
	assert.Equal(t, "001", other)

	var client clientdomain.Client
	require.NoError(t, conn.First(&client, 5).Error)
	assert.Equal(t, int64(2), client.NumberCursor)
}

func TestCounterConcurrentIssuanceIsUnique(t *testing.T) {
	conn := setupDB(t)
	authority := newAuthority(config.NumberingStrategyCounter, config.NumberingScopeGlobal, 3)

	const workers = 25
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = make(map[string]struct{}, workers)
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := conn.Transaction(func(tx *gorm.DB) error {
				number, err := authority.IssueNumber(context.Background(), tx, GlobalScope())
				if err != nil {
					return err
				}
				if err := insertInvoice(t, tx, int64(1000+i), GlobalScope(), number); err != nil {
					return err
				}
				mu.Lock()
				numbers[number] = struct{}{}
				mu.Unlock()
				return nil
			})
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Len(t, numbers, workers)
}

func TestScanIncrementsMaximum(t *testing.T) {
	conn := setupDB(t)
	authority := newAuthority(config.NumberingStrategyScan, config.NumberingScopeGlobal, 3)

	number, err := authority.IssueNumber(context.Background(), conn, GlobalScope())
	require.NoError(t, err)
	assert.Equal(t, "001", number)

	require.NoError(t, insertInvoice(t, conn, 1, GlobalScope(), "009"))
	require.NoError(t, insertInvoice(t, conn, 2, GlobalScope(), "010"))

	number, err = authority.IssueNumber(context.Background(), conn, GlobalScope())
	require.NoError(t, err)
	assert.Equal(t, "011", number)
}

func TestScanOrdersByLengthPastPadWidth(t *testing.T) {
	conn := setupDB(t)
	authority := newAuthority(config.NumberingStrategyScan, config.NumberingScopeGlobal, 3)

	require.NoError(t, insertInvoice(t, conn, 1, GlobalScope(), "999"))
	require.NoError(t, insertInvoice(t, conn, 2, GlobalScope(), "1000"))

	number, err := authority.IssueNumber(context.Background(), conn, GlobalScope())
	require.NoError(t, err)
	assert.Equal(t, "1001", number)
}

func TestScanFallsBackOnUnparseableNumber(t *testing.T) {
	conn := setupDB(t)
	authority := newAuthority(config.NumberingStrategyScan, config.NumberingScopeGlobal, 3)

	require.NoError(t, insertInvoice(t, conn, 1, GlobalScope(), "INV-A"))

	number, err := authority.IssueNumber(context.Background(), conn, GlobalScope())
	require.NoError(t, err)
	assert.Equal(t, "001", number)
}

func TestDuplicateNumberIsRejectedByIndex(t *testing.T) {
	conn := setupDB(t)

	require.NoError(t, insertInvoice(t, conn, 1, GlobalScope(), "004"))
	err := insertInvoice(t, conn, 2, GlobalScope(), "004")

	require.Error(t, err)
	assert.True(t, db.IsDuplicateKeyErr(err))
	assert.NoError(t, insertInvoice(t, conn, 3, ClientScope(9), "004"))
}

func TestScopeClientID(t *testing.T) {
	id, ok := ClientScope(42).ClientID()
	assert.True(t, ok)
	assert.Equal(t, snowflake.ID(42), id)

	_, ok = GlobalScope().ClientID()
	assert.False(t, ok)
}

func TestFormatNumber(t *testing.T) {
	out, err := FormatNumber("INV-{YYYY}{MM}-{SEQ4}", issueDate, 12)
	require.NoError(t, err)
	assert.Equal(t, "INV-202406-0012", out)

	_, err = FormatNumber("INV-{SEQ}-{X}", issueDate, 1)
	assert.Error(t, err)

	_, err = FormatNumber("{SEQ}", issueDate, 0)
	assert.Error(t, err)
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "007", Display("", "007", issueDate))
	assert.Equal(t, "2024-7", Display("{YYYY}-{SEQ}", "007", issueDate))
	assert.Equal(t, "X-1", Display("{YYYY}-{SEQ}", "X-1", issueDate))
}

func TestPadPrintsWideValuesInFull(t *testing.T) {
	assert.Equal(t, "001", Pad(1, 3))
	assert.Equal(t, "12345", Pad(12345, 3))
	assert.Equal(t, fmt.Sprint(7), Pad(7, 1))
}
