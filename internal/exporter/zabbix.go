package exporter

import (
	"fmt"
	"net"
	"time"

	"github.com/charlesren/ylog"
	"github.com/charlesren/zapix/sender"
	"github.com/fehuapaya/scrapli/internal/config"
)

const module = "zabbix_sender"

// ZabbixSender 基于 zapix sender 连接池的 trapper 上报实现
type ZabbixSender struct {
	sender     *sender.Sender
	config     config.ZabbixConfig
	serverAddr string
}

var (
	_ Sender      = (*ZabbixSender)(nil)
	_ PoolStatser = (*ZabbixSender)(nil)
)

// NewZabbixSender 创建 zabbix sender
func NewZabbixSender(cfg config.ZabbixConfig) *ZabbixSender {
	cfg.SetDefaults()
	serverAddr := net.JoinHostPort(cfg.ProxyIP, cfg.ProxyPort)

	ylog.Infof(module, "creating zabbix sender for %s with pool size %d", serverAddr, cfg.PoolSize)
	ylog.Debugf(module, "connection timeout: %v, read timeout: %v, write timeout: %v",
		cfg.ConnectionTimeout, cfg.ReadTimeout, cfg.WriteTimeout)

	return &ZabbixSender{
		sender:     sender.NewSender(serverAddr, cfg.ConnectionTimeout, cfg.ReadTimeout, cfg.WriteTimeout, cfg.PoolSize),
		config:     cfg,
		serverAddr: serverAddr,
	}
}

// Send pushes metrics and fails when the server rejects any part of them.
func (z *ZabbixSender) Send(metrics []*sender.Metric) error {
	if len(metrics) == 0 {
		return nil
	}

	activeCount := 0
	for _, m := range metrics {
		if m.Active {
			activeCount++
		}
	}
	trapperCount := len(metrics) - activeCount

	start := time.Now()
	resActive, resTrapper, err := z.sender.SendMetrics(metrics)
	duration := time.Since(start)
	if err != nil {
		ylog.Errorf(module, "failed to send %d metrics to %s after %v: %v", len(metrics), z.serverAddr, duration, err)
		return fmt.Errorf("zabbix send failed: %w (metrics=%d, server=%s)", err, len(metrics), z.serverAddr)
	}

	// 只有当有对应类型的 metrics 时才检查响应
	var failedDetails []string
	if activeCount > 0 && resActive.Response != "success" {
		failedDetails = append(failedDetails, fmt.Sprintf("active: %s - %s", resActive.Response, resActive.Info))
	}
	if trapperCount > 0 && resTrapper.Response != "success" {
		failedDetails = append(failedDetails, fmt.Sprintf("trapper: %s - %s", resTrapper.Response, resTrapper.Info))
	}
	if len(failedDetails) > 0 {
		ylog.Warnf(module, "zabbix server reported partial failure: %v", failedDetails)
		return fmt.Errorf("zabbix server reported failures: %v", failedDetails)
	}

	ylog.Debugf(module, "sent %d metrics to %s in %v (trapper info: %s)", len(metrics), z.serverAddr, duration, resTrapper.Info)
	return nil
}

// GetStats returns connection pool statistics
func (z *ZabbixSender) GetStats() map[string]interface{} {
	stats := z.sender.GetPoolStats()
	stats["server_address"] = z.serverAddr
	stats["config_pool_size"] = z.config.PoolSize
	return stats
}
