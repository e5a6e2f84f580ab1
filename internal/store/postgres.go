package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mikronoc/mikronoc/internal/model"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an initialized pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const routerColumns = `id, tenant_id, name, host, port, username, password_enc, use_tls, enabled,
	identity, ros_version, is_online, last_seen_at, latency_ms, last_error,
	maintenance_until, maintenance_reason, created_at, updated_at`

func scanRouter(row pgx.Row) (*model.Router, error) {
	var r model.Router
	err := row.Scan(
		&r.ID, &r.TenantID, &r.Name, &r.Host, &r.Port, &r.Username, &r.Password, &r.UseTLS, &r.Enabled,
		&r.Identity, &r.RosVersion, &r.IsOnline, &r.LastSeenAt, &r.LatencyMS, &r.LastError,
		&r.MaintenanceUntil, &r.MaintenanceReason, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan router: %w", err)
	}
	return &r, nil
}

func (p *Postgres) CreateRouter(ctx context.Context, r *model.Router) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := p.pool.Exec(ctx, `
		INSERT INTO mikrotik_routers
			(id, tenant_id, name, host, port, username, password_enc, use_tls, enabled,
			 maintenance_until, maintenance_reason, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)`,
		r.ID, r.TenantID, r.Name, r.Host, r.Port, r.Username, r.Password, r.UseTLS, r.Enabled,
		r.MaintenanceUntil, r.MaintenanceReason, now,
	)
	if err != nil {
		return fmt.Errorf("insert router: %w", err)
	}
	return nil
}

func (p *Postgres) GetRouter(ctx context.Context, id uuid.UUID) (*model.Router, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+routerColumns+` FROM mikrotik_routers WHERE id = $1`, id)
	return scanRouter(row)
}

func (p *Postgres) listRouters(ctx context.Context, query string, args ...any) ([]*model.Router, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list routers: %w", err)
	}
	defer rows.Close()

	var routers []*model.Router
	for rows.Next() {
		r, err := scanRouter(rows)
		if err != nil {
			return nil, err
		}
		routers = append(routers, r)
	}
	return routers, rows.Err()
}

func (p *Postgres) ListRouters(ctx context.Context, tenantID uuid.UUID) ([]*model.Router, error) {
	return p.listRouters(ctx,
		`SELECT `+routerColumns+` FROM mikrotik_routers WHERE tenant_id = $1 ORDER BY name`, tenantID)
}

func (p *Postgres) ListEnabledRouters(ctx context.Context) ([]*model.Router, error) {
	return p.listRouters(ctx,
		`SELECT `+routerColumns+` FROM mikrotik_routers WHERE enabled ORDER BY name`)
}

func (p *Postgres) UpdateRouterConfig(ctx context.Context, r *model.Router) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE mikrotik_routers
		SET name = $2, host = $3, port = $4, username = $5, password_enc = $6,
		    use_tls = $7, enabled = $8, maintenance_until = $9, maintenance_reason = $10,
		    updated_at = NOW()
		WHERE id = $1`,
		r.ID, r.Name, r.Host, r.Port, r.Username, r.Password,
		r.UseTLS, r.Enabled, r.MaintenanceUntil, r.MaintenanceReason,
	)
	if err != nil {
		return fmt.Errorf("update router config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) MarkRouterOnline(ctx context.Context, id uuid.UUID, st OnlineStatus) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE mikrotik_routers
		SET is_online = TRUE, last_seen_at = $2, latency_ms = $3,
		    identity = $4, ros_version = $5, last_error = '', updated_at = NOW()
		WHERE id = $1`,
		id, st.LastSeenAt, st.LatencyMS, st.Identity, st.RosVersion,
	)
	if err != nil {
		return fmt.Errorf("mark router online: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) MarkRouterOffline(ctx context.Context, id uuid.UUID, lastError string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE mikrotik_routers
		SET is_online = FALSE, last_error = $2, updated_at = NOW()
		WHERE id = $1`,
		id, lastError,
	)
	if err != nil {
		return fmt.Errorf("mark router offline: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteRouter(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM mikrotik_routers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete router: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const metricColumns = `router_id, interface_name, timestamp, cpu_load, memory_total, memory_free,
	disk_total, disk_free, uptime_seconds, rx_bps, tx_bps`

func scanMetric(row pgx.Row) (*model.RouterMetricSample, error) {
	var s model.RouterMetricSample
	err := row.Scan(
		&s.RouterID, &s.InterfaceName, &s.Timestamp, &s.CPULoad, &s.MemoryTotal, &s.MemoryFree,
		&s.DiskTotal, &s.DiskFree, &s.UptimeSeconds, &s.RxBps, &s.TxBps,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan metric: %w", err)
	}
	return &s, nil
}

func (p *Postgres) AppendMetric(ctx context.Context, s *model.RouterMetricSample) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO mikrotik_router_metrics (`+metricColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		s.RouterID, s.InterfaceName, s.Timestamp, s.CPULoad, s.MemoryTotal, s.MemoryFree,
		s.DiskTotal, s.DiskFree, s.UptimeSeconds, s.RxBps, s.TxBps,
	)
	if err != nil {
		return fmt.Errorf("append metric: %w", err)
	}
	return nil
}

func (p *Postgres) LatestMetric(ctx context.Context, routerID uuid.UUID) (*model.RouterMetricSample, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+metricColumns+` FROM mikrotik_router_metrics
		WHERE router_id = $1 AND interface_name = ''
		ORDER BY timestamp DESC LIMIT 1`, routerID)
	return scanMetric(row)
}

// limitOrNull maps the store-wide "limit <= 0 means no limit" convention
// onto SQL: LIMIT NULL is unbounded in PostgreSQL while LIMIT 0 returns no
// rows.
func limitOrNull(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

func (p *Postgres) QueryMetrics(ctx context.Context, q MetricQuery) ([]*model.RouterMetricSample, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+metricColumns+` FROM mikrotik_router_metrics
		WHERE router_id = $1 AND interface_name = $2
		  AND timestamp >= $3 AND timestamp <= $4
		ORDER BY timestamp ASC
		LIMIT $5`,
		q.RouterID, q.InterfaceName, q.From, q.To, limitOrNull(q.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var samples []*model.RouterMetricSample
	for rows.Next() {
		s, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

const alertColumns = `id, tenant_id, router_id, alert_type, severity, status, title, message,
	value_num, threshold_num, triggered_at, last_seen_at, resolved_at, acked_at, acked_by`

func scanAlert(row pgx.Row) (*model.Alert, error) {
	var a model.Alert
	err := row.Scan(
		&a.ID, &a.TenantID, &a.RouterID, &a.Type, &a.Severity, &a.Status, &a.Title, &a.Message,
		&a.Value, &a.Threshold, &a.TriggeredAt, &a.LastSeenAt, &a.ResolvedAt, &a.AckedAt, &a.AckedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	return &a, nil
}

// UpsertOpenAlert relies on the partial unique index over unresolved rows:
// the insert either creates the open row or lands on the update arm, so two
// concurrent evaluators can never produce a duplicate.
func (p *Postgres) UpsertOpenAlert(ctx context.Context, a *model.Alert) (*model.Alert, bool, error) {
	id := uuid.New()
	row := p.pool.QueryRow(ctx, `
		INSERT INTO mikrotik_alerts
			(id, tenant_id, router_id, alert_type, severity, status, title, message,
			 value_num, threshold_num, triggered_at, last_seen_at)
		VALUES ($1,$2,$3,$4,$5,'open',$6,$7,$8,$9,$10,$10)
		ON CONFLICT (tenant_id, router_id, alert_type) WHERE resolved_at IS NULL
		DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at,
		              value_num = EXCLUDED.value_num,
		              message = EXCLUDED.message
		RETURNING `+alertColumns+`, (xmax = 0) AS created`,
		id, a.TenantID, a.RouterID, a.Type, a.Severity, a.Title, a.Message,
		a.Value, a.Threshold, a.LastSeenAt,
	)

	var out model.Alert
	var created bool
	err := row.Scan(
		&out.ID, &out.TenantID, &out.RouterID, &out.Type, &out.Severity, &out.Status, &out.Title,
		&out.Message, &out.Value, &out.Threshold, &out.TriggeredAt, &out.LastSeenAt,
		&out.ResolvedAt, &out.AckedAt, &out.AckedBy, &created,
	)
	if err != nil {
		return nil, false, fmt.Errorf("upsert alert: %w", err)
	}
	return &out, created, nil
}

func (p *Postgres) ResolveOpenAlert(ctx context.Context, tenantID, routerID uuid.UUID, typ model.AlertType, at time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE mikrotik_alerts
		SET status = 'resolved', resolved_at = $4
		WHERE tenant_id = $1 AND router_id = $2 AND alert_type = $3 AND resolved_at IS NULL`,
		tenantID, routerID, typ, at,
	)
	if err != nil {
		return false, fmt.Errorf("resolve open alert: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) GetAlert(ctx context.Context, id uuid.UUID) (*model.Alert, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM mikrotik_alerts WHERE id = $1`, id)
	return scanAlert(row)
}

func (p *Postgres) AckAlert(ctx context.Context, id uuid.UUID, by string, at time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE mikrotik_alerts SET acked_at = $2, acked_by = $3 WHERE id = $1`, id, at, by)
	if err != nil {
		return fmt.Errorf("ack alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ResolveAlert(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE mikrotik_alerts SET status = 'resolved', resolved_at = $2
		WHERE id = $1 AND resolved_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListAlerts(ctx context.Context, tenantID uuid.UUID, activeOnly bool, limit int) ([]*model.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM mikrotik_alerts WHERE tenant_id = $1`
	if activeOnly {
		query += ` AND resolved_at IS NULL`
	}
	query += ` ORDER BY last_seen_at DESC LIMIT $2`

	rows, err := p.pool.Query(ctx, query, tenantID, limitOrNull(limit))
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

const incidentColumns = `id, tenant_id, router_id, interface_name, incident_type, severity, status,
	title, message, triggered_at, last_seen_at, resolved_at, acked_at, acked_by, owner_user_id, notes`

func scanIncident(row pgx.Row) (*model.Incident, error) {
	var in model.Incident
	err := row.Scan(
		&in.ID, &in.TenantID, &in.RouterID, &in.InterfaceName, &in.Type, &in.Severity, &in.Status,
		&in.Title, &in.Message, &in.TriggeredAt, &in.LastSeenAt, &in.ResolvedAt,
		&in.AckedAt, &in.AckedBy, &in.OwnerUserID, &in.Notes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}
	return &in, nil
}

func (p *Postgres) UpsertOpenIncident(ctx context.Context, in *model.Incident) (*model.Incident, bool, error) {
	id := uuid.New()
	row := p.pool.QueryRow(ctx, `
		INSERT INTO mikrotik_incidents
			(id, tenant_id, router_id, interface_name, incident_type, severity, status,
			 title, message, triggered_at, last_seen_at, owner_user_id, notes)
		VALUES ($1,$2,$3,$4,$5,$6,'open',$7,$8,$9,$9,$10,$11)
		ON CONFLICT (tenant_id, router_id, incident_type, interface_name) WHERE resolved_at IS NULL
		DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at,
		              message = EXCLUDED.message
		RETURNING `+incidentColumns+`, (xmax = 0) AS created`,
		id, in.TenantID, in.RouterID, in.InterfaceName, in.Type, in.Severity,
		in.Title, in.Message, in.LastSeenAt, in.OwnerUserID, in.Notes,
	)

	var out model.Incident
	var created bool
	err := row.Scan(
		&out.ID, &out.TenantID, &out.RouterID, &out.InterfaceName, &out.Type, &out.Severity,
		&out.Status, &out.Title, &out.Message, &out.TriggeredAt, &out.LastSeenAt,
		&out.ResolvedAt, &out.AckedAt, &out.AckedBy, &out.OwnerUserID, &out.Notes, &created,
	)
	if err != nil {
		return nil, false, fmt.Errorf("upsert incident: %w", err)
	}
	return &out, created, nil
}

func (p *Postgres) ResolveOpenIncident(ctx context.Context, tenantID, routerID uuid.UUID, typ model.IncidentType, interfaceName string, at time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE mikrotik_incidents
		SET status = 'resolved', resolved_at = $5
		WHERE tenant_id = $1 AND router_id = $2 AND incident_type = $3
		  AND interface_name = $4 AND resolved_at IS NULL`,
		tenantID, routerID, typ, interfaceName, at,
	)
	if err != nil {
		return false, fmt.Errorf("resolve open incident: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) GetIncident(ctx context.Context, id uuid.UUID) (*model.Incident, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+incidentColumns+` FROM mikrotik_incidents WHERE id = $1`, id)
	return scanIncident(row)
}

func (p *Postgres) AckIncident(ctx context.Context, id uuid.UUID, by string, at time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE mikrotik_incidents SET acked_at = $2, acked_by = $3 WHERE id = $1`, id, at, by)
	if err != nil {
		return fmt.Errorf("ack incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ResolveIncident(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE mikrotik_incidents SET status = 'resolved', resolved_at = $2
		WHERE id = $1 AND resolved_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("resolve incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListIncidents(ctx context.Context, tenantID uuid.UUID, activeOnly bool, limit int) ([]*model.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM mikrotik_incidents WHERE tenant_id = $1`
	if activeOnly {
		query += ` AND resolved_at IS NULL`
	}
	query += ` ORDER BY last_seen_at DESC LIMIT $2`

	rows, err := p.pool.Query(ctx, query, tenantID, limitOrNull(limit))
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*model.Incident
	for rows.Next() {
		in, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, in)
	}
	return incidents, rows.Err()
}

func (p *Postgres) SaveWallboardSlots(ctx context.Context, tenantID uuid.UUID, slots []model.WallboardSlot) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin wallboard tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM mikrotik_wallboard_slots WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("clear wallboard slots: %w", err)
	}

	for _, s := range slots {
		if _, err := tx.Exec(ctx, `
			INSERT INTO mikrotik_wallboard_slots
				(tenant_id, position, router_id, interface_name, warn_rx_bps, warn_tx_bps)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			tenantID, s.Position, s.RouterID, s.InterfaceName, s.WarnRxBps, s.WarnTxBps,
		); err != nil {
			return fmt.Errorf("insert wallboard slot %d: %w", s.Position, err)
		}
	}

	return tx.Commit(ctx)
}

func (p *Postgres) listSlots(ctx context.Context, query string, args ...any) ([]model.WallboardSlot, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list wallboard slots: %w", err)
	}
	defer rows.Close()

	var slots []model.WallboardSlot
	for rows.Next() {
		var s model.WallboardSlot
		if err := rows.Scan(&s.TenantID, &s.Position, &s.RouterID, &s.InterfaceName, &s.WarnRxBps, &s.WarnTxBps); err != nil {
			return nil, fmt.Errorf("scan wallboard slot: %w", err)
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

func (p *Postgres) GetWallboardSlots(ctx context.Context, tenantID uuid.UUID) ([]model.WallboardSlot, error) {
	return p.listSlots(ctx, `
		SELECT tenant_id, position, router_id, interface_name, warn_rx_bps, warn_tx_bps
		FROM mikrotik_wallboard_slots WHERE tenant_id = $1 ORDER BY position`, tenantID)
}

func (p *Postgres) ListAllWallboardSlots(ctx context.Context) ([]model.WallboardSlot, error) {
	return p.listSlots(ctx, `
		SELECT tenant_id, position, router_id, interface_name, warn_rx_bps, warn_tx_bps
		FROM mikrotik_wallboard_slots ORDER BY tenant_id, position`)
}
