package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/invoicedesk/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectInvoice  = "invoice"
	ObjectAuditLog = "audit_log"
)

const (
	ActionInvoiceView               = "invoice.view"
	ActionInvoiceCreate             = "invoice.create"
	ActionInvoiceEdit               = "invoice.edit"
	ActionInvoiceEditOverride       = "invoice.edit.override"
	ActionInvoiceTransition         = "invoice.transition"
	ActionInvoiceTransitionOverride = "invoice.transition.override"
	ActionInvoiceSend               = "invoice.send"
	ActionInvoiceRender             = "invoice.render"
	ActionInvoiceDelete             = "invoice.delete"

	ActionAuditLogView = "audit_log.view"
)

const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
	RoleSystem   = "system"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, role string, object string, action string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(roleSubject(role), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, role, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) auditDenied(ctx context.Context, role string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.Record(ctx, nil, auditdomain.Entry{
		Action:     auditdomain.ActionAuthorizationDenied,
		TargetType: "authorization",
		TargetID:   object,
		Metadata: map[string]any{
			"object": object,
			"action": action,
			"role":   role,
		},
	})
	if err != nil {
		s.log.Warn("failed to audit denied action", zap.String("action", action), zap.Error(err))
	}
}

func roleSubject(role string) string {
	return "role:" + role
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	// each role inherits everything below it
	groupings := [][]string{
		{roleSubject(RoleOperator), roleSubject(RoleViewer)},
		{roleSubject(RoleAdmin), roleSubject(RoleOperator)},
		{roleSubject(RoleSystem), roleSubject(RoleAdmin)},
	}
	for _, grouping := range groupings {
		if _, err := enforcer.AddGroupingPolicy(grouping); err != nil {
			return err
		}
	}

	policies := [][]string{
		{roleSubject(RoleViewer), ObjectInvoice, ActionInvoiceView},
		{roleSubject(RoleViewer), ObjectInvoice, ActionInvoiceRender},

		{roleSubject(RoleOperator), ObjectInvoice, ActionInvoiceCreate},
		{roleSubject(RoleOperator), ObjectInvoice, ActionInvoiceEdit},
		{roleSubject(RoleOperator), ObjectInvoice, ActionInvoiceTransition},
		{roleSubject(RoleOperator), ObjectInvoice, ActionInvoiceSend},

		{roleSubject(RoleAdmin), ObjectInvoice, ActionInvoiceEditOverride},
		{roleSubject(RoleAdmin), ObjectInvoice, ActionInvoiceTransitionOverride},
		{roleSubject(RoleAdmin), ObjectInvoice, ActionInvoiceDelete},
		{roleSubject(RoleAdmin), ObjectAuditLog, ActionAuditLogView},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
