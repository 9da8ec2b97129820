// Package templatestore is the reference TemplateStore implementation: a
// SQLite-backed catalog of exchange, stock, and trader templates. The
// simulation core only consumes the jobrunner.TemplateStore interface;
// callers embedding the core may supply any other implementation.
package templatestore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/aristath/simcore/internal/jobrunner"
)

// Store is a SQLite-backed template catalog.
type Store struct {
	conn *sql.DB
	log  zerolog.Logger
}

// Config holds store configuration.
type Config struct {
	Path string // database file path, or a file: URI for in-memory tests
	Log  zerolog.Logger
}

// New opens (creating if needed) the template database at cfg.Path and
// ensures the schema exists.
func New(cfg Config) (*Store, error) {
	path := cfg.Path
	if !strings.HasPrefix(path, "file:") {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("templatestore: resolve path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return nil, fmt.Errorf("templatestore: create directory: %w", err)
		}
		path = abs
	}

	connStr := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("templatestore: open database: %w", err)
	}

	s := &Store{conn: conn, log: cfg.Log.With().Str("component", "templatestore").Logger()}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error { return s.conn.Close() }

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exchange_templates (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS exchange_template_stocks (
		exchange_id TEXT NOT NULL REFERENCES exchange_templates(id) ON DELETE CASCADE,
		stock_id    TEXT NOT NULL,
		position    INTEGER NOT NULL,
		PRIMARY KEY (exchange_id, stock_id)
	);
	CREATE TABLE IF NOT EXISTS exchange_template_traders (
		exchange_id TEXT NOT NULL REFERENCES exchange_templates(id) ON DELETE CASCADE,
		trader_id   TEXT NOT NULL,
		position    INTEGER NOT NULL,
		PRIMARY KEY (exchange_id, trader_id)
	);
	CREATE TABLE IF NOT EXISTS stock_templates (
		id           TEXT PRIMARY KEY,
		symbol       TEXT NOT NULL,
		company_name TEXT NOT NULL,
		category     TEXT NOT NULL DEFAULT '',
		issue_price  REAL NOT NULL,
		total_shares INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS trader_templates (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		initial_capital REAL NOT NULL,
		risk_profile    TEXT NOT NULL
	);`

	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("templatestore: init schema: %w", err)
	}
	return nil
}

// SaveExchangeTemplate upserts an exchange template and its child id lists.
func (s *Store) SaveExchangeTemplate(t jobrunner.ExchangeTemplate) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("templatestore: begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO exchange_templates (id, name, description) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, description = excluded.description`,
		t.ID, t.Name, t.Description,
	); err != nil {
		return fmt.Errorf("templatestore: save exchange template: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM exchange_template_stocks WHERE exchange_id = ?`, t.ID); err != nil {
		return fmt.Errorf("templatestore: clear stock links: %w", err)
	}
	for i, stockID := range t.StockTemplateIDs {
		if _, err := tx.Exec(
			`INSERT INTO exchange_template_stocks (exchange_id, stock_id, position) VALUES (?, ?, ?)`,
			t.ID, stockID, i,
		); err != nil {
			return fmt.Errorf("templatestore: link stock template: %w", err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM exchange_template_traders WHERE exchange_id = ?`, t.ID); err != nil {
		return fmt.Errorf("templatestore: clear trader links: %w", err)
	}
	for i, traderID := range t.TraderTemplateIDs {
		if _, err := tx.Exec(
			`INSERT INTO exchange_template_traders (exchange_id, trader_id, position) VALUES (?, ?, ?)`,
			t.ID, traderID, i,
		); err != nil {
			return fmt.Errorf("templatestore: link trader template: %w", err)
		}
	}

	return tx.Commit()
}

// SaveStockTemplate upserts a stock template.
func (s *Store) SaveStockTemplate(t jobrunner.StockTemplate) error {
	_, err := s.conn.Exec(
		`INSERT INTO stock_templates (id, symbol, company_name, category, issue_price, total_shares)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET symbol = excluded.symbol, company_name = excluded.company_name,
		   category = excluded.category, issue_price = excluded.issue_price, total_shares = excluded.total_shares`,
		t.ID, t.Symbol, t.CompanyName, t.Category, t.IssuePrice, t.TotalShares,
	)
	if err != nil {
		return fmt.Errorf("templatestore: save stock template: %w", err)
	}
	return nil
}

// SaveTraderTemplate upserts a trader template.
func (s *Store) SaveTraderTemplate(t jobrunner.TraderTemplate) error {
	_, err := s.conn.Exec(
		`INSERT INTO trader_templates (id, name, initial_capital, risk_profile)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, initial_capital = excluded.initial_capital,
		   risk_profile = excluded.risk_profile`,
		t.ID, t.Name, t.InitialCapital, t.RiskProfile,
	)
	if err != nil {
		return fmt.Errorf("templatestore: save trader template: %w", err)
	}
	return nil
}

// FetchExchangeTemplate implements jobrunner.TemplateStore.
func (s *Store) FetchExchangeTemplate(id string) (jobrunner.ExchangeTemplate, error) {
	var t jobrunner.ExchangeTemplate
	err := s.conn.QueryRow(
		`SELECT id, name, description FROM exchange_templates WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.Description)
	if err == sql.ErrNoRows {
		return t, fmt.Errorf("%w: exchange template %q", jobrunner.ErrTemplateNotFound, id)
	}
	if err != nil {
		return t, &jobrunner.TransientError{Cause: err}
	}

	t.StockTemplateIDs, err = s.childIDs(`SELECT stock_id FROM exchange_template_stocks WHERE exchange_id = ? ORDER BY position`, id)
	if err != nil {
		return t, err
	}
	t.TraderTemplateIDs, err = s.childIDs(`SELECT trader_id FROM exchange_template_traders WHERE exchange_id = ? ORDER BY position`, id)
	if err != nil {
		return t, err
	}
	return t, nil
}

func (s *Store) childIDs(query, exchangeID string) ([]string, error) {
	rows, err := s.conn.Query(query, exchangeID)
	if err != nil {
		return nil, &jobrunner.TransientError{Cause: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &jobrunner.TransientError{Cause: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &jobrunner.TransientError{Cause: err}
	}
	return ids, nil
}

// FetchStockTemplate implements jobrunner.TemplateStore.
func (s *Store) FetchStockTemplate(id string) (jobrunner.StockTemplate, error) {
	var t jobrunner.StockTemplate
	err := s.conn.QueryRow(
		`SELECT id, symbol, company_name, category, issue_price, total_shares FROM stock_templates WHERE id = ?`, id,
	).Scan(&t.ID, &t.Symbol, &t.CompanyName, &t.Category, &t.IssuePrice, &t.TotalShares)
	if err == sql.ErrNoRows {
		return t, fmt.Errorf("%w: stock template %q", jobrunner.ErrTemplateNotFound, id)
	}
	if err != nil {
		return t, &jobrunner.TransientError{Cause: err}
	}
	return t, nil
}

// FetchTraderTemplate implements jobrunner.TemplateStore.
func (s *Store) FetchTraderTemplate(id string) (jobrunner.TraderTemplate, error) {
	var t jobrunner.TraderTemplate
	err := s.conn.QueryRow(
		`SELECT id, name, initial_capital, risk_profile FROM trader_templates WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.InitialCapital, &t.RiskProfile)
	if err == sql.ErrNoRows {
		return t, fmt.Errorf("%w: trader template %q", jobrunner.ErrTemplateNotFound, id)
	}
	if err != nil {
		return t, &jobrunner.TransientError{Cause: err}
	}
	return t, nil
}
