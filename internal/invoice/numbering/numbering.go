package numbering

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicedesk/internal/clock"
	"github.com/smallbiznis/invoicedesk/internal/config"
	"github.com/smallbiznis/invoicedesk/internal/observability/metrics"
	"github.com/smallbiznis/invoicedesk/internal/observability/tracing"
	"github.com/smallbiznis/invoicedesk/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Scope names the namespace an invoice number is unique within.
type Scope string

const clientScopePrefix = "client:"

func GlobalScope() Scope { return "global" }

func ClientScope(id snowflake.ID) Scope {
	return Scope(clientScopePrefix + id.String())
}

// ClientID returns the client of a per-client scope.
func (s Scope) ClientID() (snowflake.ID, bool) {
	raw, ok := strings.CutPrefix(string(s), clientScopePrefix)
	if !ok {
		return 0, false
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (s Scope) String() string { return string(s) }

// Issuer hands out the next number of a scope inside the caller's transaction.
type Issuer interface {
	IssueNumber(ctx context.Context, tx *gorm.DB, scope Scope) (string, error)
}

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Clock   clock.Clock
	Metrics *metrics.EngineMetrics `optional:"true"`
}

type Authority struct {
	strategy string
	scope    string
	padWidth int
	log      *zap.Logger
	clock    clock.Clock
	metrics  *metrics.EngineMetrics
}

func New(p Params) *Authority {
	return &Authority{
		strategy: p.Config.Numbering.Strategy,
		scope:    p.Config.Numbering.Scope,
		padWidth: p.Config.Numbering.PadWidth,
		log:      p.Log.Named("invoice.numbering"),
		clock:    p.Clock,
		metrics:  p.Metrics,
	}
}

func (a *Authority) Strategy() string { return a.strategy }

// ScopeFor resolves the configured scope for an invoice of clientID.
func (a *Authority) ScopeFor(clientID snowflake.ID) Scope {
	if a.scope == config.NumberingScopeClient {
		return ClientScope(clientID)
	}
	return GlobalScope()
}

// IssueNumber returns the next zero-padded number in scope. It must run in the
// transaction that inserts the invoice: with the scan strategy the unique
// (number_scope, invoice_number) index is what turns a race into an error.
func (a *Authority) IssueNumber(ctx context.Context, tx *gorm.DB, scope Scope) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "invoice.numbering.issue",
		attribute.String("numbering.strategy", a.strategy),
		attribute.String("numbering.scope", scope.String()),
	)

	var (
		value int64
		err   error
	)
	switch a.strategy {
	case config.NumberingStrategyScan:
		value, err = a.scan(ctx, tx, scope)
	default:
		value, err = a.increment(ctx, tx, scope)
	}
	if err == nil {
		err = a.mirrorClientCursor(ctx, tx, scope, value)
	}
	tracing.EndSpan(span, err)
	if err != nil {
		return "", err
	}

	a.metrics.ObserveNumberIssued(a.strategy)
	number := Pad(value, a.padWidth)
	a.log.Debug("issued invoice number",
		zap.String("scope", scope.String()),
		zap.String("number", number),
	)
	return number, nil
}

func (a *Authority) increment(ctx context.Context, tx *gorm.DB, scope Scope) (int64, error) {
	now := a.clock.Now()
	if db.DialectName(tx) == db.DialectMySQL {
		return incrementMySQL(ctx, tx, scope, now)
	}

	var value int64
	err := tx.WithContext(ctx).Raw(
		`INSERT INTO invoice_counters (scope, value, updated_at) VALUES (?, 1, ?)
		 ON CONFLICT (scope) DO UPDATE SET value = invoice_counters.value + 1, updated_at = excluded.updated_at
		 RETURNING value`,
		scope.String(),
		now,
	).Scan(&value).Error
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", scope, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("increment counter %s: no value returned", scope)
	}
	return value, nil
}

// mysql has no RETURNING; LAST_INSERT_ID(expr) is per-connection, so both
// statements run on the same transaction connection.
func incrementMySQL(ctx context.Context, tx *gorm.DB, scope Scope, now time.Time) (int64, error) {
	var value int64
	err := tx.WithContext(ctx).Transaction(func(conn *gorm.DB) error {
		if err := conn.Exec(
			`INSERT INTO invoice_counters (scope, value, updated_at) VALUES (?, LAST_INSERT_ID(1), ?)
			 ON DUPLICATE KEY UPDATE value = LAST_INSERT_ID(value + 1), updated_at = VALUES(updated_at)`,
			scope.String(),
			now,
		).Error; err != nil {
			return err
		}
		return conn.Raw(`SELECT LAST_INSERT_ID()`).Scan(&value).Error
	})
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", scope, err)
	}
	return value, nil
}

func (a *Authority) scan(ctx context.Context, tx *gorm.DB, scope Scope) (int64, error) {
	var current []string
	err := tx.WithContext(ctx).Raw(
		`SELECT invoice_number FROM invoices WHERE number_scope = ?
		 ORDER BY LENGTH(invoice_number) DESC, invoice_number DESC LIMIT 1`,
		scope.String(),
	).Scan(&current).Error
	if err != nil {
		return 0, fmt.Errorf("scan max number %s: %w", scope, err)
	}
	if len(current) == 0 {
		return 1, nil
	}

	parsed, err := strconv.ParseInt(strings.TrimSpace(current[0]), 10, 64)
	if err != nil || parsed <= 0 {
		a.log.Warn("unparseable invoice number, restarting scope",
			zap.String("scope", scope.String()),
			zap.String("current", current[0]),
		)
		return 1, nil
	}
	return parsed + 1, nil
}

func (a *Authority) mirrorClientCursor(ctx context.Context, tx *gorm.DB, scope Scope, value int64) error {
	clientID, ok := scope.ClientID()
	if !ok {
		return nil
	}
	err := tx.WithContext(ctx).Exec(
		`UPDATE clients SET number_cursor = ? WHERE id = ?`,
		value,
		clientID,
	).Error
	if err != nil {
		return fmt.Errorf("update client cursor: %w", err)
	}
	return nil
}

var _ Issuer = (*Authority)(nil)
