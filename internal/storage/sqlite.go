package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"relaybot/internal/model"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

// Open initializes the sqlite-backed copy store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const copyColumns = `recipient_id, message_id, origin_user, origin_msg, origin_item,
	kind, file_id, caption, album_id, relayed_at, expires_at`

func (s *sqliteStore) CreateCopy(ctx context.Context, c model.Copy) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if c.RelayedAt.IsZero() {
		c.RelayedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO relayed_copies(`+copyColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(recipient_id, message_id) DO UPDATE SET
		   origin_user=excluded.origin_user, origin_msg=excluded.origin_msg,
		   origin_item=excluded.origin_item, kind=excluded.kind,
		   file_id=excluded.file_id, caption=excluded.caption,
		   album_id=excluded.album_id, relayed_at=excluded.relayed_at,
		   expires_at=excluded.expires_at`,
		c.RecipientID, c.MessageID, c.Origin.UserID, c.Origin.MsgID, c.Origin.ItemMsgID,
		string(c.Kind), nullStr(c.FileID), nullStr(c.Caption), nullStr(c.AlbumID),
		c.RelayedAt.UnixMilli(), c.ExpiresAt.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, _ = s.DeleteExpired(pctx, time.Now())
		cancel()
	}
	return err
}

func (s *sqliteStore) CopiesByAnchor(ctx context.Context, senderID int64, anchorMsgID int) ([]model.Copy, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+copyColumns+` FROM relayed_copies
		 WHERE origin_user = ? AND origin_msg = ? AND expires_at > ?
		 ORDER BY recipient_id, origin_item`,
		senderID, anchorMsgID, time.Now().UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Copy
	for rows.Next() {
		c, err := scanCopy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CopyByMessage(ctx context.Context, recipientID int64, messageID int) (model.Copy, bool, error) {
	if s == nil || s.db == nil {
		return model.Copy{}, false, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+copyColumns+` FROM relayed_copies
		 WHERE recipient_id = ? AND message_id = ? AND expires_at > ?`,
		recipientID, messageID, time.Now().UnixMilli(),
	)
	c, err := scanCopy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Copy{}, false, nil
	}
	if err != nil {
		return model.Copy{}, false, err
	}
	return c, true, nil
}

func (s *sqliteStore) FindRelayed(ctx context.Context, recipientID int64, origin model.OriginalID) (model.Copy, bool, error) {
	if s == nil || s.db == nil {
		return model.Copy{}, false, ErrDisabled
	}
	// Item-level match beats group-level; within each, the newest wins
	// (re-links overwrite, they do not append).
	row := s.db.QueryRowContext(ctx,
		`SELECT `+copyColumns+` FROM relayed_copies
		 WHERE recipient_id = ? AND origin_user = ?
		   AND (origin_item = ? OR origin_msg = ?) AND expires_at > ?
		 ORDER BY (origin_item = ?) DESC, relayed_at DESC, message_id DESC
		 LIMIT 1`,
		recipientID, origin.UserID, origin.ItemMsgID, origin.MsgID,
		time.Now().UnixMilli(), origin.ItemMsgID,
	)
	c, err := scanCopy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Copy{}, false, nil
	}
	if err != nil {
		return model.Copy{}, false, err
	}
	return c, true, nil
}

func (s *sqliteStore) UpdateCaption(ctx context.Context, recipientID int64, messageID int, caption string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE relayed_copies SET caption = ? WHERE recipient_id = ? AND message_id = ?`,
		nullStr(caption), recipientID, messageID,
	)
	return err
}

func (s *sqliteStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM relayed_copies WHERE expires_at < ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCopy(r rowScanner) (model.Copy, error) {
	var (
		c                        model.Copy
		kind                     string
		fileID, caption, albumID sql.NullString
		relayedMS, expiresMS     int64
	)
	err := r.Scan(
		&c.RecipientID, &c.MessageID, &c.Origin.UserID, &c.Origin.MsgID, &c.Origin.ItemMsgID,
		&kind, &fileID, &caption, &albumID, &relayedMS, &expiresMS,
	)
	if err != nil {
		return model.Copy{}, err
	}
	c.Kind = kit.Kind(kind)
	c.FileID = fileID.String
	c.Caption = caption.String
	c.AlbumID = albumID.String
	c.RelayedAt = time.UnixMilli(relayedMS)
	c.ExpiresAt = time.UnixMilli(expiresMS)
	return c, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
