package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"movienights/internal/domain"
)

// 键按功能加前缀，互不冲突
const (
	keyParticipantID      = "session.participant_id"
	keyDisplayName        = "session.display_name"
	keySubscribedReleases = "releases.subscribed"
)

// SQLiteProvider 把身份保存在本地 SQLite 文件的键值表中
type SQLiteProvider struct {
	db *sql.DB
}

// NewSQLiteProvider 打开 (必要时创建) dbPath 处的数据库
func NewSQLiteProvider(dbPath string) (*SQLiteProvider, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("identity: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("identity: open %s: %w", dbPath, err)
	}
	// 单连接，避免并发写入时的锁冲突
	db.SetMaxOpenConns(1)

	const schema = `
	CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("identity: create schema: %w", err)
	}
	return &SQLiteProvider{db: db}, nil
}

func (p *SQLiteProvider) Close() error {
	return p.db.Close()
}

func (p *SQLiteProvider) get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func set(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (p *SQLiteProvider) Load(ctx context.Context) (*domain.Identity, error) {
	pid, ok, err := p.get(ctx, keyParticipantID)
	if err != nil {
		return nil, fmt.Errorf("identity: read participant id: %w", err)
	}
	if !ok || pid == "" {
		return nil, ErrNoIdentity
	}
	name, _, err := p.get(ctx, keyDisplayName)
	if err != nil {
		return nil, fmt.Errorf("identity: read display name: %w", err)
	}
	return &domain.Identity{ParticipantID: pid, DisplayName: name}, nil
}

func (p *SQLiteProvider) Save(ctx context.Context, id domain.Identity) error {
	if id.ParticipantID == "" {
		return errors.New("identity: participant id cannot be empty")
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("identity: begin: %w", err)
	}
	defer tx.Rollback()

	if err := set(ctx, tx, keyParticipantID, id.ParticipantID); err != nil {
		return fmt.Errorf("identity: write participant id: %w", err)
	}
	if err := set(ctx, tx, keyDisplayName, id.DisplayName); err != nil {
		return fmt.Errorf("identity: write display name: %w", err)
	}
	return tx.Commit()
}

// SaveSubscribedReleases 保存订阅了上映提醒的影片 id 列表
func (p *SQLiteProvider) SaveSubscribedReleases(ctx context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("identity: begin: %w", err)
	}
	defer tx.Rollback()
	if err := set(ctx, tx, keySubscribedReleases, string(raw)); err != nil {
		return fmt.Errorf("identity: write subscribed releases: %w", err)
	}
	return tx.Commit()
}

// LoadSubscribedReleases 读取订阅列表，未保存过时返回空列表
func (p *SQLiteProvider) LoadSubscribedReleases(ctx context.Context) ([]string, error) {
	raw, ok, err := p.get(ctx, keySubscribedReleases)
	if err != nil {
		return nil, fmt.Errorf("identity: read subscribed releases: %w", err)
	}
	ids := []string{}
	if !ok {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("identity: decode subscribed releases: %w", err)
	}
	return ids, nil
}
