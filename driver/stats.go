package driver

import (
	"sync"
	"time"

	"github.com/fehuapaya/scrapli/errs"
)

// OperationStats 操作指标
type OperationStats struct {
	Operation string `json:"operation"`

	Count  int64 `json:"count"`
	Errors int64 `json:"errors"`

	TotalDuration time.Duration `json:"total_duration"`
	MinDuration   time.Duration `json:"min_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// Stats 会话指标快照
type Stats struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Host      string    `json:"host"`

	Commands         int64 `json:"commands"`
	Configs          int64 `json:"configs"`
	FailedResponses  int64 `json:"failed_responses"`
	PrivilegeChanges int64 `json:"privilege_changes"`
	EdgeRetries      int64 `json:"edge_retries"`
	Timeouts         int64 `json:"timeouts"`

	Operations map[string]*OperationStats `json:"operations"`
}

type statsCollector struct {
	mu sync.Mutex

	commands         int64
	configs          int64
	failedResponses  int64
	privilegeChanges int64
	edgeRetries      int64
	timeouts         int64

	operations map[string]*OperationStats
}

func newStatsCollector() *statsCollector {
	return &statsCollector{operations: make(map[string]*OperationStats)}
}

// record 记录一次操作的耗时与结果
func (s *statsCollector) record(operation string, d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operations[operation]
	if !ok {
		op = &OperationStats{Operation: operation, MinDuration: d}
		s.operations[operation] = op
	}
	op.Count++
	op.TotalDuration += d
	if d < op.MinDuration {
		op.MinDuration = d
	}
	if d > op.MaxDuration {
		op.MaxDuration = d
	}
	op.AvgDuration = op.TotalDuration / time.Duration(op.Count)

	if err != nil {
		op.Errors++
		if errs.HasCode(err, errs.CodeTimeout) {
			s.timeouts++
		}
	}
}

func (s *statsCollector) addResponses(config bool, rs ...*Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rs {
		if config {
			s.configs++
		} else {
			s.commands++
		}
		if r.Failed {
			s.failedResponses++
		}
	}
}

func (s *statsCollector) privilegeChanged() {
	s.mu.Lock()
	s.privilegeChanges++
	s.mu.Unlock()
}

func (s *statsCollector) edgeRetried() {
	s.mu.Lock()
	s.edgeRetries++
	s.mu.Unlock()
}

func (s *statsCollector) snapshot(id, host string) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops := make(map[string]*OperationStats, len(s.operations))
	for k, v := range s.operations {
		cp := *v
		ops[k] = &cp
	}
	return Stats{
		Timestamp:        time.Now(),
		SessionID:        id,
		Host:             host,
		Commands:         s.commands,
		Configs:          s.configs,
		FailedResponses:  s.failedResponses,
		PrivilegeChanges: s.privilegeChanges,
		EdgeRetries:      s.edgeRetries,
		Timeouts:         s.timeouts,
		Operations:       ops,
	}
}
