package storage

// sqlite.go: persistencia del ledger en SQLite (pure Go, sin CGo).
//
// Layout:
//   - `addresses`: cada dirección derivada con el tag de 8 bytes del registro
//     que vive ahí. Insertar en una dirección ocupada falla, y eso es lo que
//     hace que pools y recibos se creen como mucho una vez.
//   - `pools`, `receipts`, `listings`: una fila por registro, con la dirección
//     como key.
//   - `balances`, `tokens`: el ledger de custodia (valor fungible y tokens de
//     propiedad).
//   - `seen_requests`: nonces de las requests firmadas de la API hasta que
//     expiran.
//
// Los montos u64 se guardan como el int64 con el mismo patrón de bits; los
// enteros de SQLite tienen signo.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nhowze/overunder/internal/domain"
	"github.com/nhowze/overunder/internal/ports"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS addresses (
    address TEXT PRIMARY KEY,
    kind    BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS pools (
    id           TEXT PRIMARY KEY,
    fixture_id   INTEGER NOT NULL,
    sport        TEXT    NOT NULL,
    subject      TEXT    NOT NULL,
    stat_metric  TEXT    NOT NULL,
    threshold    INTEGER NOT NULL,
    deadline     INTEGER NOT NULL,
    stake_over   INTEGER NOT NULL DEFAULT 0,
    stake_under  INTEGER NOT NULL DEFAULT 0,
    fees_accrued INTEGER NOT NULL DEFAULT 0,
    paid_out     INTEGER NOT NULL DEFAULT 0,
    result       TEXT    NOT NULL,
    final_stat   INTEGER NOT NULL DEFAULT 0,
    settled      INTEGER NOT NULL DEFAULT 0,
    authority    TEXT    NOT NULL,
    fee_vault    TEXT    NOT NULL,
    version      INTEGER NOT NULL,
    created_at   INTEGER NOT NULL,
    settled_at   INTEGER
);

CREATE TABLE IF NOT EXISTS receipts (
    id         TEXT PRIMARY KEY,
    pool       TEXT    NOT NULL,
    owner      TEXT    NOT NULL,
    bettor     TEXT    NOT NULL,
    side_over  INTEGER NOT NULL,
    amount     INTEGER NOT NULL,
    claimed    INTEGER NOT NULL DEFAULT 0,
    token      TEXT    NOT NULL,
    for_sale   INTEGER NOT NULL DEFAULT 0,
    nonce      INTEGER NOT NULL,
    placed_at  INTEGER NOT NULL,
    claimed_at INTEGER,
    payout     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS listings (
    receipt   TEXT PRIMARY KEY,
    seller    TEXT    NOT NULL,
    token     TEXT    NOT NULL,
    listed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS balances (
    account TEXT PRIMARY KEY,
    amount  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tokens (
    token           TEXT PRIMARY KEY,
    holder          TEXT    NOT NULL,
    amount          INTEGER NOT NULL,
    delegate        TEXT    NOT NULL,
    close_authority TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS seen_requests (
    key        TEXT PRIMARY KEY,
    expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_seen_requests_expiry ON seen_requests(expires_at);
CREATE INDEX IF NOT EXISTS idx_receipts_pool ON receipts(pool, placed_at);
CREATE INDEX IF NOT EXISTS idx_tokens_holder ON tokens(holder);
`

// SQLiteStorage implementa ports.Store usando SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var (
	_ ports.Store      = (*SQLiteStorage)(nil)
	_ ports.NonceStore = (*SQLiteStorage)(nil)
)

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica el
// schema. ":memory:" da un ledger privado en memoria.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite admite un solo escritor
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Atomic ejecuta fn en una transacción y hace commit solo si fn no falla.
func (s *SQLiteStorage) Atomic(ctx context.Context, fn func(tx ports.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.Atomic: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.Atomic: commit: %w", err)
	}
	return nil
}

// View ejecuta fn en una transacción que siempre hace rollback.
func (s *SQLiteStorage) View(ctx context.Context, fn func(tx ports.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.View: begin tx: %w", err)
	}
	defer tx.Rollback()
	return fn(&sqlTx{tx: tx})
}

// Ping comprueba que la base de datos responde.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SetTokenAuthorities registra un delegate y una close authority en un token,
// como haría un approve externo. El mercado de escrow se niega a mover tokens
// que tengan alguno.
func (s *SQLiteStorage) SetTokenAuthorities(ctx context.Context, token domain.TokenID, delegate, closeAuthority domain.Address) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tokens SET delegate = ?, close_authority = ? WHERE token = ?`,
		delegate.Hex(), closeAuthority.Hex(), token.Hex(),
	)
	if err != nil {
		return fmt.Errorf("storage.SetTokenAuthorities: %w", err)
	}
	return expectOne(res, "storage.SetTokenAuthorities")
}

// sqlTx ata los repositorios a una transacción.
type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Pools() ports.PoolRepository       { return poolRepo{t.tx} }
func (t *sqlTx) Receipts() ports.ReceiptRepository { return receiptRepo{t.tx} }
func (t *sqlTx) Listings() ports.ListingRepository { return listingRepo{t.tx} }
func (t *sqlTx) Vault() ports.Vault                { return vault{t.tx} }
func (t *sqlTx) Tokens() ports.TokenRegistry       { return tokenRegistry{t.tx} }

// claimAddress reserva una dirección derivada para un registro del tipo dado.
func claimAddress(ctx context.Context, tx *sql.Tx, addr domain.Hash, kind domain.RecordKind) error {
	var existing []byte
	err := tx.QueryRowContext(ctx, `SELECT kind FROM addresses WHERE address = ?`, addr.Hex()).Scan(&existing)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, addr.Hex())
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("lookup address: %w", err)
	}
	tag := kind.Discriminator()
	if _, err := tx.ExecContext(ctx, `INSERT INTO addresses (address, kind) VALUES (?, ?)`, addr.Hex(), tag[:]); err != nil {
		return fmt.Errorf("claim address: %w", err)
	}
	return nil
}

// AddressKind devuelve el tag guardado en una dirección derivada.
func (s *SQLiteStorage) AddressKind(ctx context.Context, addr domain.Hash) ([8]byte, error) {
	var tag [8]byte
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT kind FROM addresses WHERE address = ?`, addr.Hex()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return tag, domain.ErrNotFound
	}
	if err != nil {
		return tag, fmt.Errorf("storage.AddressKind: %w", err)
	}
	copy(tag[:], raw)
	return tag, nil
}

func expectOne(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func u64(v uint64) int64 { return int64(v) }

func unixNano(t time.Time) int64 { return t.UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func scanNullTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnixNano(n.Int64)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseAddr(s string) (domain.Address, error) {
	a, err := domain.ParseAddress(s)
	if err != nil {
		return domain.Address{}, fmt.Errorf("corrupt address %q: %w", s, err)
	}
	return a, nil
}

func parseHash(s string) (domain.Hash, error) {
	h, err := domain.ParseHash(s)
	if err != nil {
		return domain.Hash{}, fmt.Errorf("corrupt hash %q: %w", s, err)
	}
	return h, nil
}
