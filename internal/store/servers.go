package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/crossmedia/fourallportal/internal/model"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("not found")

// UpsertServer creates or updates the server identified by its domain and
// stores the resulting row id in srv.ID.
// Returns created=true when a new row was inserted.
func (s *Store) UpsertServer(ctx context.Context, srv *model.Server) (created bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("upsert server: begin tx: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM servers WHERE domain = ?`, srv.Domain).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		result, err := tx.ExecContext(ctx, `
			INSERT INTO servers (domain, customer_name, username, password, active)
			VALUES (?, ?, ?, ?, ?)
		`, srv.Domain, srv.CustomerName, srv.Username, srv.Password, boolToInt(srv.Active))
		if err != nil {
			return false, fmt.Errorf("upsert server: insert: %w", err)
		}
		id, err = result.LastInsertId()
		if err != nil {
			return false, fmt.Errorf("upsert server: last insert id: %w", err)
		}
		created = true
	case err != nil:
		return false, fmt.Errorf("upsert server: select: %w", err)
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE servers
			SET customer_name = ?, username = ?, password = ?, active = ?
			WHERE id = ?
		`, srv.CustomerName, srv.Username, srv.Password, boolToInt(srv.Active), id)
		if err != nil {
			return false, fmt.Errorf("upsert server: update: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("upsert server: commit: %w", err)
	}

	srv.ID = id
	return created, nil
}

// FindServer returns the server with the given domain, modules included.
// Returns ErrNotFound if there is none.
func (s *Store) FindServer(ctx context.Context, domain string) (*model.Server, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, domain, customer_name, username, password, active
		FROM servers
		WHERE domain = ?
	`, domain)

	srv, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("server %q: %w", domain, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find server: %w", err)
	}

	srv.Modules, err = s.ListModules(ctx, srv.ID)
	if err != nil {
		return nil, err
	}
	return &srv, nil
}

// ListServers returns all servers ordered by id, each with its modules.
// If activeOnly is set, inactive servers are skipped.
func (s *Store) ListServers(ctx context.Context, activeOnly bool) ([]model.Server, error) {
	query := `
		SELECT id, domain, customer_name, username, password, active
		FROM servers`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query servers: %w", err)
	}
	defer rows.Close()

	servers := []model.Server{}
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		servers = append(servers, srv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate servers: %w", err)
	}
	rows.Close()

	for i := range servers {
		servers[i].Modules, err = s.ListModules(ctx, servers[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return servers, nil
}

// UpsertModule creates or updates a module identified by (server, name) and
// stores the row id in m.ID. The cursor columns are never written here; only
// ingestion moves them.
func (s *Store) UpsertModule(ctx context.Context, m *model.Module) (created bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("upsert module: begin tx: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM modules WHERE server_id = ? AND module_name = ?
	`, m.ServerID, m.ModuleName).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		result, err := tx.ExecContext(ctx, `
			INSERT INTO modules
			(server_id, module_name, connector_name, mapping_class, enable_dynamic_model,
			 shell_path, storage_target, storage_pid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			m.ServerID,
			m.ModuleName,
			m.ConnectorName,
			m.MappingClass,
			boolToInt(m.EnableDynamicModel),
			m.ShellPath,
			m.StorageTarget,
			m.StoragePID,
		)
		if err != nil {
			return false, fmt.Errorf("upsert module: insert: %w", err)
		}
		id, err = result.LastInsertId()
		if err != nil {
			return false, fmt.Errorf("upsert module: last insert id: %w", err)
		}
		created = true
	case err != nil:
		return false, fmt.Errorf("upsert module: select: %w", err)
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE modules
			SET connector_name = ?, mapping_class = ?, enable_dynamic_model = ?,
			    shell_path = ?, storage_target = ?, storage_pid = ?
			WHERE id = ?
		`,
			m.ConnectorName,
			m.MappingClass,
			boolToInt(m.EnableDynamicModel),
			m.ShellPath,
			m.StorageTarget,
			m.StoragePID,
			id,
		)
		if err != nil {
			return false, fmt.Errorf("upsert module: update: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("upsert module: commit: %w", err)
	}

	m.ID = id
	return created, nil
}

// ListModules returns the modules of one server ordered by id.
func (s *Store) ListModules(ctx context.Context, serverID int64) ([]model.Module, error) {
	rows, err := s.db.QueryContext(ctx, moduleColumns+`
		WHERE server_id = ?
		ORDER BY id ASC
	`, serverID)
	if err != nil {
		return nil, fmt.Errorf("query modules: %w", err)
	}
	defer rows.Close()

	modules := []model.Module{}
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan module: %w", err)
		}
		modules = append(modules, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate modules: %w", err)
	}
	return modules, nil
}

// GetModule returns one module by id.
func (s *Store) GetModule(ctx context.Context, id int64) (*model.Module, error) {
	row := s.db.QueryRowContext(ctx, moduleColumns+` WHERE id = ?`, id)
	m, err := scanModule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("module %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get module: %w", err)
	}
	return &m, nil
}

const moduleColumns = `
		SELECT id, server_id, module_name, connector_name, mapping_class, enable_dynamic_model,
		       shell_path, storage_target, storage_pid, last_event_id, last_received_at
		FROM modules`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(row rowScanner) (model.Server, error) {
	var srv model.Server
	var active int
	err := row.Scan(&srv.ID, &srv.Domain, &srv.CustomerName, &srv.Username, &srv.Password, &active)
	srv.Active = active != 0
	return srv, err
}

func scanModule(row rowScanner) (model.Module, error) {
	var m model.Module
	var dynamic int
	var lastReceived int64
	err := row.Scan(
		&m.ID,
		&m.ServerID,
		&m.ModuleName,
		&m.ConnectorName,
		&m.MappingClass,
		&dynamic,
		&m.ShellPath,
		&m.StorageTarget,
		&m.StoragePID,
		&m.LastEventID,
		&lastReceived,
	)
	m.EnableDynamicModel = dynamic != 0
	m.LastReceivedAt = fromNanos(lastReceived)
	return m, err
}
