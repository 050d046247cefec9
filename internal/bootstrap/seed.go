package bootstrap

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"

	"github.com/approveflow/backend/internal/application/services"
	"github.com/approveflow/backend/internal/domain/condition"
	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/internal/domain/ports"
	"github.com/approveflow/backend/pkg/auth"
	"github.com/approveflow/backend/pkg/constants"
	"github.com/approveflow/backend/pkg/utils"
)

//go:embed seed_data.json
var seedDataJSON []byte

type seedData struct {
	Departments []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		ParentID string `json:"parent_id"`
		HeadID   string `json:"head_id"`
	} `json:"departments"`
	Users []struct {
		ID           string   `json:"id"`
		Name         string   `json:"name"`
		Email        string   `json:"email"`
		Password     string   `json:"password"`
		DepartmentID string   `json:"department_id"`
		ManagerID    string   `json:"manager_id"`
		Roles        []string `json:"roles"`
		IsAdmin      bool     `json:"is_admin"`
	} `json:"users"`
}

// InitializeSystemData seeds the org directory and a demo expense template.
// Every step is idempotent so it runs on each startup.
func InitializeSystemData(svcMgr *services.ServiceManager, users ports.UserStore) error {
	log.Println("🔧 Initializing system data...")
	ctx := context.Background()

	var data seedData
	if err := json.Unmarshal(seedDataJSON, &data); err != nil {
		return fmt.Errorf("parse seed_data.json: %w", err)
	}

	seededDepts := 0
	for _, d := range data.Departments {
		existing, err := users.GetDepartment(ctx, d.ID)
		if err != nil {
			return fmt.Errorf("check department %s: %w", d.ID, err)
		}
		if existing != nil {
			continue
		}
		dept := &models.Department{ID: d.ID, Name: d.Name, ParentID: d.ParentID, HeadID: d.HeadID}
		if err := users.InsertDepartment(ctx, dept); err != nil {
			return fmt.Errorf("seed department %s: %w", d.ID, err)
		}
		seededDepts++
	}
	log.Printf("   ✅ Departments ready (%d seeded)", seededDepts)

	seededUsers := 0
	for _, u := range data.Users {
		existing, err := users.GetUserByEmail(ctx, u.Email)
		if err != nil {
			return fmt.Errorf("check user %s: %w", u.Email, err)
		}
		if existing != nil {
			continue
		}
		hash, err := auth.HashPassword(u.Password)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", u.Email, err)
		}
		user := &models.User{
			ID:           u.ID,
			Name:         u.Name,
			Email:        u.Email,
			PasswordHash: hash,
			DepartmentID: u.DepartmentID,
			ManagerID:    u.ManagerID,
			Roles:        u.Roles,
			IsAdmin:      u.IsAdmin,
			IsActive:     true,
		}
		if err := users.InsertUser(ctx, user); err != nil {
			return fmt.Errorf("seed user %s: %w", u.Email, err)
		}
		seededUsers++
	}
	log.Printf("   ✅ Users ready (%d seeded)", seededUsers)

	if err := seedExpenseTemplate(ctx, svcMgr.Definitions); err != nil {
		return err
	}

	log.Println("✅ System data initialized")
	return nil
}

// seedExpenseTemplate publishes a demo template with two flows: a default
// manager-only flow and a finance flow selected when the amount reaches
// 5000.
func seedExpenseTemplate(ctx context.Context, defs *services.DefinitionService) error {
	const code = "EXPENSE"

	existing, err := defs.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("list templates: %w", err)
	}
	for _, tpl := range existing {
		if tpl.Code == code {
			return nil
		}
	}

	admin := &models.UserSession{ID: "user-admin", Name: "System Admin", IsAdmin: true}
	desc := "Demo expense reimbursement approval"
	tpl, err := defs.CreateTemplate(ctx, &models.Template{
		Code:        code,
		Name:        "Expense Approval",
		EntityType:  "expense",
		Category:    "finance",
		Description: &desc,
		FormSchema: json.RawMessage(`{
			"type": "object",
			"required": ["amount", "reason"],
			"properties": {
				"amount": {"type": "number", "minimum": 0},
				"reason": {"type": "string", "minLength": 1}
			}
		}`),
	}, admin)
	if err != nil {
		return fmt.Errorf("seed expense template: %w", err)
	}

	defaultFlow := &models.FlowDefinition{
		ID:         utils.GenerateID(),
		TemplateID: tpl.ID,
		Name:       "Standard",
		IsDefault:  true,
		Nodes: []models.NodeDefinition{
			{
				ID: "n-manager", Order: 1, Name: "Manager Approval",
				Type: constants.NodeTypeApproval, Mode: constants.ApprovalModeSingle,
				Approver:      models.ApproverConfig{Strategy: constants.StrategyDirectManager, Levels: 1},
				RejectTo:      models.RejectPolicy{Type: constants.RejectToStart},
				DefaultNextID: "n-cc-finance",
				CanTransfer:   true,
				Timeout:       &models.TimeoutPolicy{Hours: constants.DefaultTaskDueHours, Action: constants.TimeoutRemind},
			},
			{
				ID: "n-cc-finance", Order: 2, Name: "Notify Finance",
				Type:     constants.NodeTypeCC,
				Approver: models.ApproverConfig{Strategy: constants.StrategyRole, Roles: []string{"finance"}},
			},
		},
	}

	financeFlow := &models.FlowDefinition{
		ID:         utils.GenerateID(),
		TemplateID: tpl.ID,
		Name:       "Large Amount",
		Nodes: []models.NodeDefinition{
			{
				ID: "n-manager", Order: 1, Name: "Manager Approval",
				Type: constants.NodeTypeApproval, Mode: constants.ApprovalModeSingle,
				Approver:      models.ApproverConfig{Strategy: constants.StrategyDirectManager, Levels: 1},
				RejectTo:      models.RejectPolicy{Type: constants.RejectToStart},
				DefaultNextID: "n-finance",
				CanTransfer:   true,
			},
			{
				ID: "n-finance", Order: 2, Name: "Finance Review",
				Type: constants.NodeTypeApproval, Mode: constants.ApprovalModeOrSign,
				Approver:       models.ApproverConfig{Strategy: constants.StrategyRole, Roles: []string{"finance"}},
				RejectTo:       models.RejectPolicy{Type: constants.RejectToPrev},
				DefaultNextID:  "n-cc-finance",
				CanAddApprover: true,
				Timeout:        &models.TimeoutPolicy{Hours: constants.DefaultTaskDueHours, Action: constants.TimeoutEscalate},
			},
			{
				ID: "n-cc-finance", Order: 3, Name: "Notify Finance",
				Type:     constants.NodeTypeCC,
				Approver: models.ApproverConfig{Strategy: constants.StrategyRole, Roles: []string{"finance"}},
			},
		},
	}

	for _, flow := range []*models.FlowDefinition{defaultFlow, financeFlow} {
		if err := defs.SaveFlow(ctx, flow); err != nil {
			return fmt.Errorf("seed flow %s: %w", flow.Name, err)
		}
	}

	rule := &models.RoutingRule{
		TemplateID: tpl.ID,
		Priority:   10,
		Condition:  condition.Leaf("form.amount", condition.OpGe, 5000),
		FlowID:     financeFlow.ID,
		Active:     true,
	}
	if err := defs.SaveRoutingRule(ctx, rule); err != nil {
		return fmt.Errorf("seed routing rule: %w", err)
	}

	if err := defs.Publish(ctx, tpl.ID); err != nil {
		return fmt.Errorf("publish expense template: %w", err)
	}
	log.Printf("   ✅ Demo template %q published", code)
	return nil
}
