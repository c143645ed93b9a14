// Package health reports database reachability and basic host statistics.
package health

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/R3E-Network/contactbook/internal/app/storage"
	svcerrors "github.com/R3E-Network/contactbook/internal/errors"
	"github.com/R3E-Network/contactbook/pkg/logger"
)

// Report is the health endpoint payload.
type Report struct {
	Message  string    `json:"message"`
	Database string    `json:"database"`
	Host     *HostInfo `json:"host,omitempty"`
	Checked  time.Time `json:"checked_at"`
}

// HostInfo summarises the machine serving the request.
type HostInfo struct {
	Hostname      string  `json:"hostname,omitempty"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
	MemoryUsedPct float64 `json:"memory_used_percent"`
}

// Service runs health checks.
type Service struct {
	db      storage.Pinger
	backend string
	log     *logger.Logger
	timeout time.Duration
}

// New creates a health service. backend names the storage driver in reports.
func New(db storage.Pinger, backend string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("health")
	}
	if backend == "" {
		backend = "memory"
	}
	return &Service{db: db, backend: backend, log: log, timeout: 3 * time.Second}
}

// Check pings the database. Any failure is reported as a 500 so load
// balancers take the instance out of rotation.
func (s *Service) Check(ctx context.Context) (Report, error) {
	if s.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		if err := s.db.Ping(pingCtx); err != nil {
			s.log.WithContext(ctx).WithError(err).Error("health check failed")
			if errors.Is(err, sql.ErrNoRows) {
				return Report{}, svcerrors.Internal("Database is not configured correctly", err)
			}
			return Report{}, svcerrors.Internal("Error connecting to the database", err)
		}
	}

	return Report{
		Message:  "Welcome to the contacts API!",
		Database: s.backend,
		Host:     hostInfo(ctx),
		Checked:  time.Now().UTC(),
	}, nil
}

func hostInfo(ctx context.Context) *HostInfo {
	info := &HostInfo{}
	ok := false
	if h, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = h.Hostname
		info.UptimeSeconds = h.Uptime
		ok = true
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryUsedPct = vm.UsedPercent
		ok = true
	}
	if !ok {
		return nil
	}
	return info
}
