package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"ZKAttest-Chain/internal/attest"
	"ZKAttest-Chain/internal/envelope"
	"ZKAttest-Chain/internal/session"
	"ZKAttest-Chain/internal/workflow"
)

// Config 描述 MySQL 归档库的连接参数。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// SessionArchive 将终结会话及其见证记录写入 MySQL。
type SessionArchive struct {
	db *sql.DB
}

// NewSessionArchive 建立连接池并应用迁移。
func NewSessionArchive(ctx context.Context, cfg Config) (*SessionArchive, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	archive := &SessionArchive{db: db}
	if err := archive.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return archive, nil
}

const upsertSessionSQL = `INSERT INTO sessions
    (id, kind, phase, progress, candidates, verified, failed_verification, attested, already_recorded, failed_attestation, error, log_json, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE
    phase = VALUES(phase), progress = VALUES(progress),
    candidates = VALUES(candidates), verified = VALUES(verified),
    failed_verification = VALUES(failed_verification), attested = VALUES(attested),
    already_recorded = VALUES(already_recorded), failed_attestation = VALUES(failed_attestation),
    error = VALUES(error), log_json = VALUES(log_json), updated_at = VALUES(updated_at)`

const insertAttestationSQL = `INSERT INTO attestations
    (session_id, position, fingerprint, endpoint, receipt_id, explorer_url, outcome, last_error, submitted_at, confirmed_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// ArchiveSession 在一个事务内覆盖写入会话与其全部见证记录。重复归档
// 同一会话是幂等的。
func (s *SessionArchive) ArchiveSession(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("会话 ID 不能为空")
	}

	logJSON, err := json.Marshal(sess.Log)
	if err != nil {
		return fmt.Errorf("序列化会话日志失败: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启归档事务失败: %w", err)
	}

	summary := sess.Summary
	if _, err := tx.ExecContext(ctx, upsertSessionSQL,
		sess.ID,
		sess.Kind,
		string(sess.Phase),
		sess.ProgressPercent,
		summary.Candidates,
		summary.Verified,
		summary.FailedVerification,
		summary.Attested,
		summary.AlreadyRecorded,
		summary.FailedAttestation,
		sess.Error,
		string(logJSON),
		sess.CreatedAt,
		sess.UpdatedAt,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("写入会话记录失败: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM attestations WHERE session_id = ?`, sess.ID); err != nil {
		tx.Rollback()
		return fmt.Errorf("清理旧见证记录失败: %w", err)
	}
	for position, record := range sess.Attestations {
		if _, err := tx.ExecContext(ctx, insertAttestationSQL,
			sess.ID,
			position,
			record.Fingerprint.Hex(),
			record.Endpoint,
			record.ReceiptID,
			record.ExplorerURL,
			string(record.Outcome),
			record.LastError,
			record.SubmittedAt,
			record.ConfirmedAt,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("写入见证记录失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交归档事务失败: %w", err)
	}
	return nil
}

const selectSessionColumns = `SELECT id, kind, phase, progress, candidates, verified, failed_verification, attested, already_recorded, failed_attestation, error, log_json, created_at, updated_at
    FROM sessions`

// ListLatest 按更新时间倒序返回最近归档的会话, 不含见证明细。
func (s *SessionArchive) ListLatest(ctx context.Context, limit int) ([]*session.Session, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, selectSessionColumns+` ORDER BY updated_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询归档会话失败: %w", err)
	}
	defer rows.Close()

	var results []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历归档会话失败: %w", err)
	}
	return results, nil
}

// Get 返回单个归档会话及其全部见证记录。
func (s *SessionArchive) Get(ctx context.Context, id string) (*session.Session, error) {
	rows, err := s.db.QueryContext(ctx, selectSessionColumns+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("查询归档会话失败: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("查询归档会话失败: %w", err)
		}
		return nil, session.ErrSessionNotFound
	}
	sess, err := scanSession(rows)
	if err != nil {
		return nil, err
	}
	rows.Close()

	attestations, err := s.loadAttestations(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.Attestations = attestations
	return sess, nil
}

func (s *SessionArchive) loadAttestations(ctx context.Context, sessionID string) ([]attest.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT fingerprint, endpoint, receipt_id, explorer_url, outcome, last_error, submitted_at, confirmed_at
    FROM attestations WHERE session_id = ? ORDER BY position ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("查询见证记录失败: %w", err)
	}
	defer rows.Close()

	var records []attest.Record
	for rows.Next() {
		var record attest.Record
		var fingerprint, outcome string
		if err := rows.Scan(&fingerprint, &record.Endpoint, &record.ReceiptID, &record.ExplorerURL, &outcome, &record.LastError, &record.SubmittedAt, &record.ConfirmedAt); err != nil {
			return nil, fmt.Errorf("解析见证记录失败: %w", err)
		}
		if err := parseFingerprint(fingerprint, &record.Fingerprint); err != nil {
			return nil, err
		}
		record.Outcome = attest.Outcome(outcome)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历见证记录失败: %w", err)
	}
	return records, nil
}

func scanSession(rows *sql.Rows) (*session.Session, error) {
	var sess session.Session
	var phase, logJSON string
	if err := rows.Scan(
		&sess.ID,
		&sess.Kind,
		&phase,
		&sess.ProgressPercent,
		&sess.Summary.Candidates,
		&sess.Summary.Verified,
		&sess.Summary.FailedVerification,
		&sess.Summary.Attested,
		&sess.Summary.AlreadyRecorded,
		&sess.Summary.FailedAttestation,
		&sess.Error,
		&logJSON,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("解析归档会话失败: %w", err)
	}
	sess.Phase = session.Phase(phase)
	if logJSON != "" {
		if err := json.Unmarshal([]byte(logJSON), &sess.Log); err != nil {
			return nil, fmt.Errorf("解析会话日志失败: %w", err)
		}
	}
	return &sess, nil
}

func parseFingerprint(hexValue string, fp *envelope.Fingerprint) error {
	quoted, err := json.Marshal(hexValue)
	if err != nil {
		return fmt.Errorf("解析指纹失败: %w", err)
	}
	if err := fp.UnmarshalJSON(quoted); err != nil {
		return fmt.Errorf("解析指纹失败: %w", err)
	}
	return nil
}

// Close 关闭底层数据库连接。
func (s *SessionArchive) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ workflow.Archiver = (*SessionArchive)(nil)
