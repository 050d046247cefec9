package bootstrap

import (
	"fmt"
	"log"

	"github.com/approveflow/backend/internal/infrastructure/database"
	"github.com/approveflow/backend/pkg/constants"
)

// InitializeSchema creates the engine tables if they do not exist yet.
// DDL is idempotent so restarting the server against an existing
// database is safe.
func InitializeSchema(db *database.Connection) error {
	log.Println("🔧 Initializing workflow schema...")

	statements := []struct {
		table string
		ddl   string
	}{
		{constants.TableTemplate, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id            VARCHAR(64)  NOT NULL,
				code          VARCHAR(64)  NOT NULL,
				name          VARCHAR(255) NOT NULL,
				version       INT          NOT NULL DEFAULT 1,
				status        VARCHAR(20)  NOT NULL,
				entity_type   VARCHAR(64)  NOT NULL,
				category      VARCHAR(64)  NOT NULL DEFAULT '',
				form_schema   JSON         NULL,
				description   TEXT         NULL,
				created_by_id VARCHAR(64)  NOT NULL,
				created_at    DATETIME     NOT NULL,
				updated_at    DATETIME     NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uk_code_version (code, version),
				KEY idx_status (status)
			)`, constants.TableTemplate)},
		{constants.TableFlow, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id          VARCHAR(64)  NOT NULL,
				template_id VARCHAR(64)  NOT NULL,
				name        VARCHAR(255) NOT NULL,
				is_default  TINYINT(1)   NOT NULL DEFAULT 0,
				nodes       JSON         NOT NULL,
				PRIMARY KEY (id),
				KEY idx_template (template_id)
			)`, constants.TableFlow)},
		{constants.TableRoutingRule, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id          VARCHAR(64) NOT NULL,
				template_id VARCHAR(64) NOT NULL,
				priority    INT         NOT NULL DEFAULT 0,
				cond        JSON        NULL,
				expression  TEXT        NULL,
				flow_id     VARCHAR(64) NOT NULL,
				active      TINYINT(1)  NOT NULL DEFAULT 1,
				created_at  DATETIME    NOT NULL,
				PRIMARY KEY (id),
				KEY idx_template (template_id, active, priority)
			)`, constants.TableRoutingRule)},
		{constants.TableInstance, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id              VARCHAR(64)  NOT NULL,
				template_id     VARCHAR(64)  NOT NULL,
				flow_id         VARCHAR(64)  NULL,
				entity_type     VARCHAR(64)  NOT NULL,
				entity_id       VARCHAR(64)  NOT NULL,
				title           VARCHAR(255) NOT NULL,
				summary         TEXT         NULL,
				status          VARCHAR(20)  NOT NULL,
				initiator_id    VARCHAR(64)  NOT NULL,
				current_node_id VARCHAR(64)  NULL,
				current_order   INT          NOT NULL DEFAULT 0,
				form_data       JSON         NULL,
				flow_snapshot   JSON         NULL,
				join_expected   INT          NOT NULL DEFAULT 0,
				join_arrived    INT          NOT NULL DEFAULT 0,
				version         BIGINT       NOT NULL DEFAULT 0,
				submitted_at    DATETIME     NULL,
				completed_at    DATETIME     NULL,
				created_at      DATETIME     NOT NULL,
				updated_at      DATETIME     NOT NULL,
				PRIMARY KEY (id),
				KEY idx_initiator (initiator_id, created_at),
				KEY idx_status (status)
			)`, constants.TableInstance)},
		{constants.TableTask, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id            VARCHAR(64)  NOT NULL,
				instance_id   VARCHAR(64)  NOT NULL,
				node_id       VARCHAR(64)  NOT NULL,
				node_name     VARCHAR(255) NULL,
				type          VARCHAR(20)  NOT NULL,
				order_in_node INT          NOT NULL DEFAULT 0,
				assignee_id   VARCHAR(64)  NOT NULL,
				assignee_dept VARCHAR(64)  NULL,
				weight        INT          NOT NULL DEFAULT 1,
				source        VARCHAR(20)  NOT NULL,
				status        VARCHAR(20)  NOT NULL,
				action        VARCHAR(20)  NULL,
				comment       TEXT         NULL,
				due_at        DATETIME     NULL,
				notified_at   DATETIME     NULL,
				completed_at  DATETIME     NULL,
				created_at    DATETIME     NOT NULL,
				PRIMARY KEY (id),
				KEY idx_assignee (assignee_id, status),
				KEY idx_instance_node (instance_id, node_id),
				KEY idx_due (status, due_at)
			)`, constants.TableTask)},
		{constants.TableCountersign, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				instance_id  VARCHAR(64) NOT NULL,
				node_id      VARCHAR(64) NOT NULL,
				total        INT         NOT NULL DEFAULT 0,
				approved     INT         NOT NULL DEFAULT 0,
				rejected     INT         NOT NULL DEFAULT 0,
				pending      INT         NOT NULL DEFAULT 0,
				final_result VARCHAR(20) NULL,
				updated_at   DATETIME    NOT NULL,
				PRIMARY KEY (instance_id, node_id)
			)`, constants.TableCountersign)},
		{constants.TableActionLog, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id             VARCHAR(64) NOT NULL,
				instance_id    VARCHAR(64) NOT NULL,
				task_id        VARCHAR(64) NULL,
				operation      VARCHAR(32) NOT NULL,
				operator_id    VARCHAR(64) NOT NULL,
				comment        TEXT        NULL,
				before_status  VARCHAR(20) NULL,
				after_status   VARCHAR(20) NULL,
				before_node_id VARCHAR(64) NULL,
				after_node_id  VARCHAR(64) NULL,
				created_at     DATETIME    NOT NULL,
				PRIMARY KEY (id),
				KEY idx_instance (instance_id, created_at)
			)`, constants.TableActionLog)},
		{constants.TableCarbonCopy, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id          VARCHAR(64) NOT NULL,
				instance_id VARCHAR(64) NOT NULL,
				node_id     VARCHAR(64) NULL,
				user_id     VARCHAR(64) NOT NULL,
				is_read     TINYINT(1)  NOT NULL DEFAULT 0,
				read_at     DATETIME    NULL,
				created_at  DATETIME    NOT NULL,
				PRIMARY KEY (id),
				KEY idx_user (user_id, is_read, created_at)
			)`, constants.TableCarbonCopy)},
		{constants.TableDelegate, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id              VARCHAR(64) NOT NULL,
				user_id         VARCHAR(64) NOT NULL,
				delegate_id     VARCHAR(64) NOT NULL,
				scope           VARCHAR(20) NOT NULL,
				scope_ids       JSON        NULL,
				start_date      DATETIME    NOT NULL,
				end_date        DATETIME    NOT NULL,
				active          TINYINT(1)  NOT NULL DEFAULT 1,
				notify_original TINYINT(1)  NOT NULL DEFAULT 0,
				created_at      DATETIME    NOT NULL,
				PRIMARY KEY (id),
				KEY idx_user (user_id),
				KEY idx_active (active, start_date, end_date)
			)`, constants.TableDelegate)},
		{constants.TableDelegateLog, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id           VARCHAR(64) NOT NULL,
				delegate_id  VARCHAR(64) NOT NULL,
				task_id      VARCHAR(64) NOT NULL,
				instance_id  VARCHAR(64) NOT NULL,
				original_id  VARCHAR(64) NOT NULL,
				effective_id VARCHAR(64) NOT NULL,
				created_at   DATETIME    NOT NULL,
				PRIMARY KEY (id),
				KEY idx_task (task_id, created_at)
			)`, constants.TableDelegateLog)},
		{constants.TableUser, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id            VARCHAR(64)  NOT NULL,
				name          VARCHAR(255) NOT NULL,
				email         VARCHAR(255) NOT NULL,
				password_hash VARCHAR(255) NOT NULL,
				department_id VARCHAR(64)  NULL,
				manager_id    VARCHAR(64)  NULL,
				roles         JSON         NULL,
				is_admin      TINYINT(1)   NOT NULL DEFAULT 0,
				is_active     TINYINT(1)   NOT NULL DEFAULT 1,
				created_at    DATETIME     NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uk_email (email)
			)`, constants.TableUser)},
		{constants.TableDepartment, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id        VARCHAR(64)  NOT NULL,
				name      VARCHAR(255) NOT NULL,
				parent_id VARCHAR(64)  NULL,
				head_id   VARCHAR(64)  NULL,
				PRIMARY KEY (id)
			)`, constants.TableDepartment)},
	}

	for _, stmt := range statements {
		if _, err := db.DB().Exec(stmt.ddl); err != nil {
			log.Printf("   ⚠️  Failed creating %s: %v", stmt.table, err)
			return fmt.Errorf("create table %s: %w", stmt.table, err)
		}
	}

	log.Printf("✅ Workflow schema ready (%d tables)", len(statements))
	return nil
}
