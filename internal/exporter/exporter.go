// Package exporter turns driver responses and session statistics into
// Zabbix trapper items.
package exporter

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charlesren/ylog"
	"github.com/charlesren/zapix/sender"
	"github.com/fehuapaya/scrapli/driver"
	"github.com/fehuapaya/scrapli/errs"
)

// Sender delivers a batch of metrics.
type Sender interface {
	Send(metrics []*sender.Metric) error
}

// PoolStatser is implemented by senders that keep a connection pool.
type PoolStatser interface {
	GetStats() map[string]interface{}
}

// Exporter 结果缓冲区，达到 bufferSize 或调用 Flush 时上报
type Exporter struct {
	sender     Sender
	prefix     string
	bufferSize int

	mu     sync.Mutex
	buffer []*sender.Metric
	now    func() time.Time
}

// New 创建上报器，bufferSize<=0 时只在 Flush 时上报
func New(s Sender, prefix string, bufferSize int) *Exporter {
	if prefix == "" {
		prefix = "scrapli"
	}
	return &Exporter{
		sender:     s,
		prefix:     prefix,
		bufferSize: bufferSize,
		now:        time.Now,
	}
}

// AddResponses queues one failed/elapsed/result triple per response.
func (e *Exporter) AddResponses(host string, mr *driver.MultiResponse) error {
	if mr == nil {
		return nil
	}
	var metrics []*sender.Metric
	for _, r := range mr.Responses {
		metrics = append(metrics, e.responseMetrics(host, r)...)
	}
	return e.add(metrics...)
}

func (e *Exporter) responseMetrics(host string, r *driver.Response) []*sender.Metric {
	clock := r.EndTime.Unix()
	param := KeyParam(r.Input)
	failed := "0"
	if r.Failed {
		failed = "1"
	}
	return []*sender.Metric{
		e.metric(host, fmt.Sprintf("%s.response.failed[%s]", e.prefix, param), failed, clock),
		e.metric(host, fmt.Sprintf("%s.response.elapsed[%s]", e.prefix, param),
			strconv.FormatFloat(r.ElapsedTime.Seconds(), 'f', 3, 64), clock),
		e.metric(host, fmt.Sprintf("%s.response.result[%s]", e.prefix, param), r.Result, clock),
	}
}

// AddStats queues the session counters.
func (e *Exporter) AddStats(host string, st driver.Stats) error {
	clock := st.Timestamp.Unix()
	counters := []struct {
		name  string
		value int64
	}{
		{"commands", st.Commands},
		{"configs", st.Configs},
		{"failed_responses", st.FailedResponses},
		{"privilege_changes", st.PrivilegeChanges},
		{"edge_retries", st.EdgeRetries},
		{"timeouts", st.Timeouts},
	}
	metrics := make([]*sender.Metric, 0, len(counters))
	for _, c := range counters {
		metrics = append(metrics, e.metric(host, fmt.Sprintf("%s.stats[%s]", e.prefix, c.name),
			strconv.FormatInt(c.value, 10), clock))
	}
	return e.add(metrics...)
}

// AddError queues the error code of a failed device run, or "OK" for nil.
func (e *Exporter) AddError(host string, err error) error {
	value := "OK"
	if err != nil {
		value = "UNKNOWN"
		if se := errs.As(err); se != nil {
			value = string(se.Code)
		}
	}
	return e.add(e.metric(host, e.prefix+".error", value, e.now().Unix()))
}

func (e *Exporter) metric(host, key, value string, clock int64) *sender.Metric {
	return &sender.Metric{
		Host:   host,
		Key:    key,
		Value:  value,
		Clock:  clock,
		Active: false, // trapper item
	}
}

func (e *Exporter) add(metrics ...*sender.Metric) error {
	e.mu.Lock()
	e.buffer = append(e.buffer, metrics...)
	full := e.bufferSize > 0 && len(e.buffer) >= e.bufferSize
	e.mu.Unlock()

	if full {
		return e.Flush()
	}
	return nil
}

// Flush sends everything buffered. Metrics are dropped after a failed send.
func (e *Exporter) Flush() error {
	e.mu.Lock()
	batch := e.buffer
	e.buffer = nil
	e.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	ylog.Debugf(module, "flushing %d metrics", len(batch))
	if err := e.sender.Send(batch); err != nil {
		ylog.Errorf(module, "dropping %d metrics: %v", len(batch), err)
		return err
	}
	return nil
}

// SenderStats returns the sender's pool statistics, or nil when the sender
// keeps none.
func (e *Exporter) SenderStats() map[string]interface{} {
	if ps, ok := e.sender.(PoolStatser); ok {
		return ps.GetStats()
	}
	return nil
}

// Pending returns the number of buffered metrics.
func (e *Exporter) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buffer)
}

// KeyParam quotes s as a Zabbix item key parameter when it needs quoting.
func KeyParam(s string) string {
	if s == "" {
		return `""`
	}
	if !strings.ContainsAny(s, `,[]" `) {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
