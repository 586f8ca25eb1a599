package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/park285/trick-battle/internal/domain"
	"github.com/park285/trick-battle/internal/voting"
)

type StateStore struct {
	db          *sql.DB
	lockTimeout time.Duration
}

var _ voting.StateStore = (*StateStore)(nil)

type StateOption func(*StateStore)

// WithLockTimeout bounds how long a transaction waits for a battle's row lock.
// Zero leaves the server default in place.
func WithLockTimeout(d time.Duration) StateOption {
	return func(s *StateStore) { s.lockTimeout = d }
}

func NewStateStore(db *sql.DB, opts ...StateOption) *StateStore {
	s := &StateStore{db: db}
	for _, o := range opts {
		o(s)
	}
	return s
}

const stateColumns = `battle_id, creator_id, opponent_id, status, votes, voting_started_at,
    vote_deadline_at, winner_id, processed_event_ids`

func (s *StateStore) WithLock(ctx context.Context, battleID string, fn func(tx voting.StateTx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	// No-op after Commit. Also releases the row lock when fn panics.
	defer func() { _ = sqlTx.Rollback() }()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds())
		if _, err = sqlTx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err = fn(&stateTx{tx: sqlTx, battleID: battleID}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *StateStore) Get(ctx context.Context, battleID string) (*domain.VoteState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM battle_vote_states WHERE battle_id = $1`, battleID)
	return scanState(row)
}

func (s *StateStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]voting.ExpiredRow, error) {
	if limit <= 0 {
		limit = voting.DefaultSweepBatchSize
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+stateColumns+`
        FROM battle_vote_states
        WHERE status = 'voting' AND vote_deadline_at < $1
        ORDER BY vote_deadline_at, battle_id
        LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	defer rows.Close()

	out := make([]voting.ExpiredRow, 0)
	for rows.Next() {
		var r stateRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, fmt.Errorf("scan expired: %w", err)
		}
		st, err := r.decode()
		if err != nil {
			out = append(out, voting.ExpiredRow{
				BattleID: r.st.BattleID,
				Deadline: r.st.VoteDeadlineAt.UTC(),
				Err:      fmt.Errorf("battle %s: %w", r.st.BattleID, err),
			})
			continue
		}
		out = append(out, voting.ExpiredRow{BattleID: st.BattleID, Deadline: st.VoteDeadlineAt})
	}
	return out, rows.Err()
}

type stateTx struct {
	tx       *sql.Tx
	battleID string
}

func (t *stateTx) Load(ctx context.Context) (*domain.VoteState, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+stateColumns+`
        FROM battle_vote_states WHERE battle_id = $1 FOR UPDATE`, t.battleID)
	return scanState(row)
}

// Insert relies on the primary key: a concurrent insert blocks until the other
// transaction finishes and then reports false.
func (t *stateTx) Insert(ctx context.Context, st *domain.VoteState) (bool, error) {
	votes, events, err := encodeLists(st)
	if err != nil {
		return false, err
	}
	res, err := t.tx.ExecContext(ctx, `INSERT INTO battle_vote_states (`+stateColumns+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (battle_id) DO NOTHING`,
		st.BattleID, st.CreatorID, st.OpponentID, string(st.Status), string(votes),
		st.VotingStartedAt, st.VoteDeadlineAt, nullString(st.WinnerID), string(events))
	if err != nil {
		return false, fmt.Errorf("insert vote state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *stateTx) Update(ctx context.Context, st *domain.VoteState) error {
	votes, events, err := encodeLists(st)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `UPDATE battle_vote_states
        SET status = $2, votes = $3, winner_id = $4, processed_event_ids = $5, updated_at = NOW()
        WHERE battle_id = $1`,
		st.BattleID, string(st.Status), string(votes), nullString(st.WinnerID), string(events))
	if err != nil {
		return fmt.Errorf("update vote state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update vote state %s: %w", st.BattleID, sql.ErrNoRows)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// stateRow holds the raw columns so decoding can fail without losing the row's key.
type stateRow struct {
	st                 domain.VoteState
	status             string
	votesRaw, eventRaw []byte
	winner             sql.NullString
}

func (r *stateRow) dest() []any {
	return []any{&r.st.BattleID, &r.st.CreatorID, &r.st.OpponentID, &r.status, &r.votesRaw,
		&r.st.VotingStartedAt, &r.st.VoteDeadlineAt, &r.winner, &r.eventRaw}
}

func (r *stateRow) decode() (*domain.VoteState, error) {
	st := r.st
	st.Status = domain.VoteStatus(r.status)
	if !st.Status.Valid() {
		return nil, fmt.Errorf("vote state %s: unknown status %q", st.BattleID, r.status)
	}
	st.WinnerID = r.winner.String
	if err := json.Unmarshal(r.votesRaw, &st.Votes); err != nil {
		return nil, fmt.Errorf("decode votes: %w", err)
	}
	if err := json.Unmarshal(r.eventRaw, &st.ProcessedEventIDs); err != nil {
		return nil, fmt.Errorf("decode processed events: %w", err)
	}
	if st.Votes == nil {
		st.Votes = []domain.VoteEntry{}
	}
	st.VotingStartedAt = st.VotingStartedAt.UTC()
	st.VoteDeadlineAt = st.VoteDeadlineAt.UTC()
	return &st, nil
}

func scanState(row rowScanner) (*domain.VoteState, error) {
	var r stateRow
	err := row.Scan(r.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan vote state: %w", err)
	}
	return r.decode()
}

// encodeLists returns JSON text; lib/pq would send raw []byte as bytea.
func encodeLists(st *domain.VoteState) (votes, events []byte, err error) {
	v := st.Votes
	if v == nil {
		v = []domain.VoteEntry{}
	}
	e := st.ProcessedEventIDs
	if e == nil {
		e = []string{}
	}
	if votes, err = json.Marshal(v); err != nil {
		return nil, nil, fmt.Errorf("encode votes: %w", err)
	}
	if events, err = json.Marshal(e); err != nil {
		return nil, nil, fmt.Errorf("encode processed events: %w", err)
	}
	return votes, events, nil
}
