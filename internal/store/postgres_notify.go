package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"memechaos/internal/domain"
)

const (
	// changeChannel is the LISTEN/NOTIFY channel shared by every process on
	// one database
	changeChannel = "memechaos_changes"

	// Postgres caps a payload at 8000 bytes
	maxNoticeChanges = 32

	listenRetry = 2 * time.Second
)

// notice is the NOTIFY payload
type notice struct {
	Origin  string          `json:"origin"`
	Changes []domain.Change `json:"changes"`
}

// notify announces changes on the shared channel. Inside a transaction the
// notices are held by Postgres until commit and dropped on rollback.
func (s *PostgresStore) notify(ctx context.Context, changes []domain.Change) error {
	for len(changes) > 0 {
		n := min(len(changes), maxNoticeChanges)
		payload, err := json.Marshal(notice{Origin: s.origin, Changes: changes[:n]})
		if err != nil {
			return err
		}
		err = s.db.WithContext(ctx).Exec("SELECT pg_notify(?, ?)", changeChannel, string(payload)).Error
		if err != nil {
			return translate(err, nil)
		}
		changes = changes[n:]
	}
	return nil
}

// StartListener relays changes written by other processes sharing the
// database to this store's subscribers. It keeps a dedicated connection and
// reconnects until Close.
func (s *PostgresStore) StartListener() {
	if s.stopListen != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopListen = cancel
	s.listenDone = make(chan struct{})
	go s.listen(ctx)
}

func (s *PostgresStore) listen(ctx context.Context) {
	defer close(s.listenDone)

	reconnect := false
	for {
		err := s.listenOnce(ctx, reconnect)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("change listener disconnected", "error", err)
		reconnect = true

		select {
		case <-ctx.Done():
			return
		case <-time.After(listenRetry):
		}
	}
}

func (s *PostgresStore) listenOnce(ctx context.Context, reconnect bool) error {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		return err
	}
	if reconnect {
		// Notices sent while disconnected are gone
		s.feed.Resync()
	}
	s.logger.Debug("change listener ready")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}

		var msg notice
		if err := json.Unmarshal([]byte(n.Payload), &msg); err != nil {
			s.logger.Warn("malformed change notice", "error", err)
			continue
		}
		if msg.Origin == s.origin {
			continue
		}
		s.feed.Publish(msg.Changes...)
	}
}
