// Package logging: audit trail for lifecycle-relevant events.
// Audit logs are structured JSON lines that survive category filtering so the
// lifecycle history of an agent tree can be reconstructed after the fact.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event.
type AuditEventType string

const (
	// Agent lifecycle events
	AuditAgentRegister  AuditEventType = "agent_register"
	AuditAgentHeartbeat AuditEventType = "agent_heartbeat"
	AuditAgentStale     AuditEventType = "agent_stale"
	AuditAgentDead      AuditEventType = "agent_dead"
	AuditAgentKilled    AuditEventType = "agent_killed"
	AuditAgentCompleted AuditEventType = "agent_completed"
	AuditAgentError     AuditEventType = "agent_error"
	AuditAgentReaped    AuditEventType = "agent_reaped"
	AuditOrphanHandled  AuditEventType = "orphan_handled"

	// Autonomy events
	AuditTurnStart        AuditEventType = "turn_start"
	AuditTurnEnd          AuditEventType = "turn_end"
	AuditRetry            AuditEventType = "retry"
	AuditCompaction       AuditEventType = "compaction"
	AuditContextRecovered AuditEventType = "context_recovered"
	AuditToolDisabled     AuditEventType = "tool_disabled"
	AuditToolReenabled    AuditEventType = "tool_reenabled"
	AuditDegraded         AuditEventType = "degraded"

	// Vidhi events
	AuditVidhiExtracted  AuditEventType = "vidhi_extracted"
	AuditVidhiReinforced AuditEventType = "vidhi_reinforced"
	AuditVidhiMatched    AuditEventType = "vidhi_matched"
	AuditVidhiRetired    AuditEventType = "vidhi_retired"
)

// AuditEvent represents a structured audit log entry.
type AuditEvent struct {
	Timestamp int64                  `json:"ts"` // Unix milliseconds
	EventType AuditEventType         `json:"event"`
	AgentID   string                 `json:"agent,omitempty"`
	Target    string                 `json:"target,omitempty"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditMu   sync.Mutex
	auditFile *os.File
)

// auditPath returns the audit log path for today, or "" when logging is off.
func auditPath() string {
	if !IsDebugMode() || logsDir == "" {
		return ""
	}
	date := time.Now().Format("2006-01-02")
	return filepath.Join(logsDir, fmt.Sprintf("%s_audit.jsonl", date))
}

// Audit writes an audit event. Failures are swallowed; auditing must never
// break the operation being audited.
func Audit(ev AuditEvent) {
	path := auditPath()
	if path == "" {
		return
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile == nil || auditFile.Name() != path {
		if auditFile != nil {
			_ = auditFile.Close()
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return
		}
		auditFile = f
	}
	_, _ = auditFile.Write(append(data, '\n'))
}

// AuditStatusChange records an agent status transition.
func AuditStatusChange(agentID, oldStatus, newStatus string) {
	Audit(AuditEvent{
		EventType: AuditEventType("agent_" + newStatus),
		AgentID:   agentID,
		Success:   true,
		Message:   fmt.Sprintf("status %s -> %s", oldStatus, newStatus),
	})
}

// CloseAudit closes the audit file. Call on shutdown.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		_ = auditFile.Close()
		auditFile = nil
	}
}
