// Package database provides the sqlite-backed read model this core consults:
// team membership (the authority boundary) and wellness check-ins (the
// stream data source).
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	pkgdatabase "teampulse/pkg/database"
	"teampulse/pkg/interfaces"
	"teampulse/pkg/types"
)

// Manager owns the sqlite handle. Reads go straight to the pool; writes
// funnel through a single goroutine, which is how sqlite stays contention
// free under WAL.
type Manager struct {
	db           *sql.DB
	config       *pkgdatabase.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pragmas, and starts the writer.
func NewManager(config *pkgdatabase.Config) (*Manager, error) {
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := pkgdatabase.ApplyOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply sqlite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop serializes all writes. A failed write is retried once after a
// short delay before the error is reported to the caller.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Database write failed, retrying: %v", err)
				time.Sleep(time.Second)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err
		case <-m.shutdown:
			// Drain queued writes before exiting.
			for {
				select {
				case op := <-m.writeChannel:
					op.result <- op.operation(m.db)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) submitWrite(op func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{operation: op, result: result}:
		return <-result
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// IsMember implements interfaces.TeamAuthority.
func (m *Manager) IsMember(ctx context.Context, teamID, userID string) (bool, error) {
	var count int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM team_members WHERE team_id = ? AND user_id = ?`,
		teamID, userID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("membership lookup failed: %w", err)
	}
	return count > 0, nil
}

// RoleOf implements interfaces.TeamAuthority. Returns ErrNotAMember for
// users outside the team.
func (m *Manager) RoleOf(ctx context.Context, teamID, userID string) (string, error) {
	var role string
	err := m.db.QueryRowContext(ctx,
		`SELECT role FROM team_members WHERE team_id = ? AND user_id = ?`,
		teamID, userID,
	).Scan(&role)
	if err == sql.ErrNoRows {
		return "", interfaces.ErrNotAMember
	}
	if err != nil {
		return "", fmt.Errorf("role lookup failed: %w", err)
	}
	return role, nil
}

// AnalyticsSnapshot is the aggregated wellness view pushed on analytics
// streams.
type AnalyticsSnapshot struct {
	TeamID        string    `json:"team_id"`
	ChartType     string    `json:"chart_type"`
	Period        string    `json:"period"`
	AverageMood   float64   `json:"average_mood"`
	AverageEnergy float64   `json:"average_energy"`
	CheckinCount  int       `json:"checkin_count"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// CheckinRecord is one check-in row as pushed on team-events streams.
type CheckinRecord struct {
	ID          string    `json:"id"`
	TeamID      string    `json:"team_id"`
	UserID      string    `json:"user_id"`
	MoodScore   int       `json:"mood_score"`
	EnergyLevel int       `json:"energy_level"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TeamEventsSnapshot is the recent-activity view pushed on team-events
// streams.
type TeamEventsSnapshot struct {
	TeamID      string          `json:"team_id"`
	Recent      []CheckinRecord `json:"recent"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Snapshot implements interfaces.DataSource.
func (m *Manager) Snapshot(ctx context.Context, teamID, kind string, params types.StreamParams) (any, error) {
	switch kind {
	case types.StreamKindAnalytics:
		return m.analyticsSnapshot(ctx, teamID, params)
	case types.StreamKindTeamEvents:
		return m.teamEventsSnapshot(ctx, teamID)
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidStreamKind, kind)
	}
}

func periodCutoff(period string) time.Time {
	switch period {
	case "24h":
		return time.Now().Add(-24 * time.Hour)
	case "30d":
		return time.Now().AddDate(0, 0, -30)
	default: // 7d
		return time.Now().AddDate(0, 0, -7)
	}
}

func (m *Manager) analyticsSnapshot(ctx context.Context, teamID string, params types.StreamParams) (*AnalyticsSnapshot, error) {
	snapshot := &AnalyticsSnapshot{
		TeamID:      teamID,
		ChartType:   params.ChartType,
		Period:      params.Period,
		GeneratedAt: time.Now(),
	}
	if snapshot.Period == "" {
		snapshot.Period = "7d"
	}

	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(mood_score), 0), COALESCE(AVG(energy_level), 0)
		 FROM checkins WHERE team_id = ? AND created_at >= ?`,
		teamID, periodCutoff(snapshot.Period),
	).Scan(&snapshot.CheckinCount, &snapshot.AverageMood, &snapshot.AverageEnergy)
	if err != nil {
		return nil, fmt.Errorf("analytics snapshot failed: %w", err)
	}
	return snapshot, nil
}

func (m *Manager) teamEventsSnapshot(ctx context.Context, teamID string) (*TeamEventsSnapshot, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, team_id, user_id, mood_score, energy_level, note, created_at
		 FROM checkins WHERE team_id = ? ORDER BY created_at DESC LIMIT 20`,
		teamID,
	)
	if err != nil {
		return nil, fmt.Errorf("team events snapshot failed: %w", err)
	}
	defer rows.Close()

	snapshot := &TeamEventsSnapshot{TeamID: teamID, GeneratedAt: time.Now()}
	for rows.Next() {
		var rec CheckinRecord
		if err := rows.Scan(&rec.ID, &rec.TeamID, &rec.UserID, &rec.MoodScore, &rec.EnergyLevel, &rec.Note, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("team events snapshot scan failed: %w", err)
		}
		snapshot.Recent = append(snapshot.Recent, rec)
	}
	return snapshot, rows.Err()
}

// UpsertTeamMember records or updates a membership row. Used by seed
// tooling and tests; production rows are replicated from the directory
// service.
func (m *Manager) UpsertTeamMember(ctx context.Context, teamID, userID, role, displayName, avatarRef string) error {
	return m.submitWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO team_members (team_id, user_id, role, display_name, avatar_ref)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(team_id, user_id) DO UPDATE SET role = excluded.role,
			     display_name = excluded.display_name, avatar_ref = excluded.avatar_ref`,
			teamID, userID, role, displayName, avatarRef,
		)
		return err
	})
}

// InsertCheckin records one wellness check-in row.
func (m *Manager) InsertCheckin(ctx context.Context, rec *CheckinRecord) error {
	return m.submitWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO checkins (id, team_id, user_id, mood_score, energy_level, note, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.TeamID, rec.UserID, rec.MoodScore, rec.EnergyLevel, rec.Note, rec.CreatedAt,
		)
		return err
	})
}

// HealthCheck verifies connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// GetDB exposes the handle for migrations and schema validation.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the pool. Safe to call once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()
	return m.db.Close()
}
