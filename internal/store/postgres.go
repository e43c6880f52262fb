package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/pasco78/store-api-project/internal/db"
	"github.com/pasco78/store-api-project/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS stores (
	id           BIGSERIAL PRIMARY KEY,
	bizes_id     VARCHAR(50) NOT NULL UNIQUE,
	bizes_nm     VARCHAR(200),
	brtc_nm      VARCHAR(50),
	sgg_nm       VARCHAR(50),
	adong_nm     VARCHAR(50),
	bdong_nm     VARCHAR(50),
	lno_adr      VARCHAR(500),
	rdnm_adr     VARCHAR(500),
	inds_lcls_cd VARCHAR(10),
	inds_lcls_nm VARCHAR(100),
	inds_mcls_cd VARCHAR(10),
	inds_mcls_nm VARCHAR(100),
	inds_scls_cd VARCHAR(10),
	inds_scls_nm VARCHAR(100),
	lon          DOUBLE PRECISION,
	lat          DOUBLE PRECISION,
	bld_mng_no   VARCHAR(30),
	bld_nm       VARCHAR(200),
	flr_info     VARCHAR(20),
	tel          VARCHAR(20),
	ctprvn_cd    VARCHAR(10),
	sgg_cd       VARCHAR(10),
	adong_cd     VARCHAR(10),
	bdong_cd     VARCHAR(10),
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_stores_region ON stores(brtc_nm, sgg_nm, adong_nm);
CREATE INDEX IF NOT EXISTS idx_stores_category ON stores(inds_lcls_cd, inds_mcls_cd, inds_scls_cd);
CREATE INDEX IF NOT EXISTS idx_stores_coord ON stores(lat, lon);
CREATE INDEX IF NOT EXISTS idx_stores_bizes_nm ON stores(bizes_nm);
CREATE INDEX IF NOT EXISTS idx_stores_adong_cd ON stores(adong_cd);
CREATE INDEX IF NOT EXISTS idx_stores_sgg_cd ON stores(sgg_cd);
CREATE INDEX IF NOT EXISTS idx_stores_bld_mng_no ON stores(bld_mng_no);

CREATE TABLE IF NOT EXISTS sync_log (
	id           TEXT PRIMARY KEY,
	div_id       TEXT NOT NULL,
	region       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	total        BIGINT NOT NULL DEFAULT 0,
	created      BIGINT NOT NULL DEFAULT 0,
	errors       BIGINT NOT NULL DEFAULT 0,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_log_region ON sync_log(region, started_at DESC);
`

// storeColumns is the canonical select list; scanStore must stay in sync.
const storeColumns = `id, bizes_id, bizes_nm, brtc_nm, sgg_nm, adong_nm, bdong_nm,
	lno_adr, rdnm_adr,
	inds_lcls_cd, inds_lcls_nm, inds_mcls_cd, inds_mcls_nm, inds_scls_cd, inds_scls_nm,
	lon, lat, bld_mng_no, bld_nm, flr_info, tel,
	ctprvn_cd, sgg_cd, adong_cd, bdong_cd, created_at, updated_at`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (the ingest sync log).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// isUniqueViolation reports whether err is a Postgres unique constraint error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isDataViolation reports whether err is a Postgres data exception (class 22,
// e.g. a value too long for its column) or integrity constraint violation
// (class 23). These reject the record, not the connection.
func isDataViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		(strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23"))
}

func (s *PostgresStore) Create(ctx context.Context, st *model.Store) error {
	now := time.Now().UTC()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO stores (bizes_id, bizes_nm, brtc_nm, sgg_nm, adong_nm, bdong_nm,
			lno_adr, rdnm_adr,
			inds_lcls_cd, inds_lcls_nm, inds_mcls_cd, inds_mcls_nm, inds_scls_cd, inds_scls_nm,
			lon, lat, bld_mng_no, bld_nm, flr_info, tel,
			ctprvn_cd, sgg_cd, adong_cd, bdong_cd, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
		 RETURNING id`,
		st.BizesID, st.BizesNm, st.BrtcNm, st.SggNm, st.AdongNm, st.BdongNm,
		st.LnoAdr, st.RdnmAdr,
		st.IndsLclsCd, st.IndsLclsNm, st.IndsMclsCd, st.IndsMclsNm, st.IndsSclsCd, st.IndsSclsNm,
		st.Lon, st.Lat, st.BldMngNo, st.BldNm, st.FlrInfo, st.Tel,
		st.CtprvnCd, st.SggCd, st.AdongCd, st.BdongCd, now,
	).Scan(&st.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return eris.Wrapf(ErrDuplicate, "postgres: insert store %s", st.BizesID)
		}
		if isDataViolation(err) {
			return eris.Wrapf(ErrConstraint, "postgres: insert store %s: %v", st.BizesID, err)
		}
		return eris.Wrapf(err, "postgres: insert store %s", st.BizesID)
	}
	st.CreatedAt = now
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, st *model.Store) error {
	now := time.Now().UTC()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO stores (bizes_id, bizes_nm, brtc_nm, sgg_nm, adong_nm, bdong_nm,
			lno_adr, rdnm_adr,
			inds_lcls_cd, inds_lcls_nm, inds_mcls_cd, inds_mcls_nm, inds_scls_cd, inds_scls_nm,
			lon, lat, bld_mng_no, bld_nm, flr_info, tel,
			ctprvn_cd, sgg_cd, adong_cd, bdong_cd, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
		 ON CONFLICT (bizes_id) DO UPDATE SET
			bizes_nm = EXCLUDED.bizes_nm, brtc_nm = EXCLUDED.brtc_nm,
			sgg_nm = EXCLUDED.sgg_nm, adong_nm = EXCLUDED.adong_nm, bdong_nm = EXCLUDED.bdong_nm,
			lno_adr = EXCLUDED.lno_adr, rdnm_adr = EXCLUDED.rdnm_adr,
			inds_lcls_cd = EXCLUDED.inds_lcls_cd, inds_lcls_nm = EXCLUDED.inds_lcls_nm,
			inds_mcls_cd = EXCLUDED.inds_mcls_cd, inds_mcls_nm = EXCLUDED.inds_mcls_nm,
			inds_scls_cd = EXCLUDED.inds_scls_cd, inds_scls_nm = EXCLUDED.inds_scls_nm,
			lon = EXCLUDED.lon, lat = EXCLUDED.lat,
			bld_mng_no = EXCLUDED.bld_mng_no, bld_nm = EXCLUDED.bld_nm, flr_info = EXCLUDED.flr_info,
			tel = EXCLUDED.tel, ctprvn_cd = EXCLUDED.ctprvn_cd, sgg_cd = EXCLUDED.sgg_cd,
			adong_cd = EXCLUDED.adong_cd, bdong_cd = EXCLUDED.bdong_cd,
			updated_at = now()
		 RETURNING id`,
		st.BizesID, st.BizesNm, st.BrtcNm, st.SggNm, st.AdongNm, st.BdongNm,
		st.LnoAdr, st.RdnmAdr,
		st.IndsLclsCd, st.IndsLclsNm, st.IndsMclsCd, st.IndsMclsNm, st.IndsSclsCd, st.IndsSclsNm,
		st.Lon, st.Lat, st.BldMngNo, st.BldNm, st.FlrInfo, st.Tel,
		st.CtprvnCd, st.SggCd, st.AdongCd, st.BdongCd, now,
	).Scan(&st.ID)
	if err != nil {
		if isDataViolation(err) {
			return eris.Wrapf(ErrConstraint, "postgres: upsert store %s: %v", st.BizesID, err)
		}
		return eris.Wrapf(err, "postgres: upsert store %s", st.BizesID)
	}
	return nil
}

func (s *PostgresStore) GetByBizesID(ctx context.Context, bizesID string) (*model.Store, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+storeColumns+` FROM stores WHERE bizes_id = $1`,
		bizesID,
	)
	st, err := scanStore(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: store %s", bizesID)
		}
		return nil, eris.Wrapf(err, "postgres: get store %s", bizesID)
	}
	return st, nil
}

func (s *PostgresStore) ListByDong(ctx context.Context, adongCd string, page Page) ([]model.Store, error) {
	return s.listStores(ctx, `adong_cd = $1`, []any{adongCd}, page)
}

func (s *PostgresStore) ListByBuilding(ctx context.Context, bldMngNo string, page Page) ([]model.Store, error) {
	return s.listStores(ctx, `bld_mng_no = $1`, []any{bldMngNo}, page)
}

func (s *PostgresStore) ListByAddress(ctx context.Context, substr string, page Page) ([]model.Store, error) {
	return s.listStores(ctx, `lno_adr LIKE $1`, []any{"%" + substr + "%"}, page)
}

func (s *PostgresStore) ListByDistrict(ctx context.Context, sggCd string, page Page) ([]model.Store, error) {
	return s.listStores(ctx, `sgg_cd = $1`, []any{sggCd}, page)
}

func (s *PostgresStore) ListByBoundingBox(ctx context.Context, box model.BBox, page Page) ([]model.Store, error) {
	return s.listStores(ctx,
		`lat BETWEEN $1 AND $2 AND lon BETWEEN $3 AND $4`,
		[]any{box.MinLat, box.MaxLat, box.MinLon, box.MaxLon}, page)
}

// ListByCategory filters on any combination of classification levels;
// empty codes are unconstrained.
func (s *PostgresStore) ListByCategory(ctx context.Context, lclsCd, mclsCd, sclsCd string, page Page) ([]model.Store, error) {
	var conds []string
	var args []any
	if lclsCd != "" {
		args = append(args, lclsCd)
		conds = append(conds, fmt.Sprintf(`inds_lcls_cd = $%d`, len(args)))
	}
	if mclsCd != "" {
		args = append(args, mclsCd)
		conds = append(conds, fmt.Sprintf(`inds_mcls_cd = $%d`, len(args)))
	}
	if sclsCd != "" {
		args = append(args, sclsCd)
		conds = append(conds, fmt.Sprintf(`inds_scls_cd = $%d`, len(args)))
	}
	if len(conds) == 0 {
		return s.listStores(ctx, `true`, nil, page)
	}
	return s.listStores(ctx, strings.Join(conds, ` AND `), args, page)
}

func (s *PostgresStore) ListModifiedSince(ctx context.Context, since time.Time, page Page) ([]model.Store, error) {
	return s.listStores(ctx, `COALESCE(updated_at, created_at) >= $1`, []any{since}, page)
}

func (s *PostgresStore) ListAll(ctx context.Context, page Page) ([]model.Store, error) {
	return s.listStores(ctx, `true`, nil, page)
}

// listStores runs the shared paginated select. The where clause must use
// $1..$n placeholders matching args; limit and offset are appended after.
func (s *PostgresStore) listStores(ctx context.Context, where string, args []any, page Page) ([]model.Store, error) {
	if page.Empty() {
		return nil, nil
	}

	query := fmt.Sprintf(
		`SELECT %s FROM stores WHERE %s ORDER BY id LIMIT $%d OFFSET $%d`,
		storeColumns, where, len(args)+1, len(args)+2,
	)
	args = append(args, page.Limit(), page.Offset())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stores")
	}
	defer rows.Close()

	var stores []model.Store
	for rows.Next() {
		st, err := scanStore(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan store")
		}
		stores = append(stores, *st)
	}
	return stores, eris.Wrap(rows.Err(), "postgres: list stores iterate")
}

func (s *PostgresStore) LargeCategories(ctx context.Context, page Page) ([]model.CategoryPair, error) {
	return s.listCategories(ctx,
		`SELECT DISTINCT inds_lcls_cd, COALESCE(inds_lcls_nm, '') FROM stores
		 WHERE inds_lcls_cd IS NOT NULL`,
		nil, `inds_lcls_cd`, page)
}

func (s *PostgresStore) MiddleCategories(ctx context.Context, lclsCd string, page Page) ([]model.CategoryPair, error) {
	return s.listCategories(ctx,
		`SELECT DISTINCT inds_mcls_cd, COALESCE(inds_mcls_nm, '') FROM stores
		 WHERE inds_mcls_cd IS NOT NULL AND inds_lcls_cd = $1`,
		[]any{lclsCd}, `inds_mcls_cd`, page)
}

func (s *PostgresStore) SmallCategories(ctx context.Context, lclsCd, mclsCd string, page Page) ([]model.CategoryPair, error) {
	return s.listCategories(ctx,
		`SELECT DISTINCT inds_scls_cd, COALESCE(inds_scls_nm, '') FROM stores
		 WHERE inds_scls_cd IS NOT NULL AND inds_lcls_cd = $1 AND inds_mcls_cd = $2`,
		[]any{lclsCd, mclsCd}, `inds_scls_cd`, page)
}

func (s *PostgresStore) listCategories(ctx context.Context, query string, args []any, orderCol string, page Page) ([]model.CategoryPair, error) {
	if page.Empty() {
		return nil, nil
	}

	query += fmt.Sprintf(` ORDER BY %s LIMIT $%d OFFSET $%d`, orderCol, len(args)+1, len(args)+2)
	args = append(args, page.Limit(), page.Offset())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list categories")
	}
	defer rows.Close()

	var pairs []model.CategoryPair
	for rows.Next() {
		var p model.CategoryPair
		if err := rows.Scan(&p.Code, &p.Name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category")
		}
		pairs = append(pairs, p)
	}
	return pairs, eris.Wrap(rows.Err(), "postgres: list categories iterate")
}

func (s *PostgresStore) ZonesInBoundingBox(ctx context.Context, box model.BBox, page Page) ([]model.Zone, error) {
	if page.Empty() {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT sgg_cd, COALESCE(sgg_nm, ''), COUNT(id) FROM stores
		 WHERE sgg_cd IS NOT NULL
		   AND lat BETWEEN $1 AND $2 AND lon BETWEEN $3 AND $4
		 GROUP BY sgg_cd, sgg_nm
		 ORDER BY sgg_cd LIMIT $5 OFFSET $6`,
		box.MinLat, box.MaxLat, box.MinLon, box.MaxLon, page.Limit(), page.Offset(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: zones in bbox")
	}
	defer rows.Close()

	var zones []model.Zone
	for rows.Next() {
		var z model.Zone
		if err := rows.Scan(&z.SggCd, &z.SggNm, &z.StoreCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan zone")
		}
		zones = append(zones, z)
	}
	return zones, eris.Wrap(rows.Err(), "postgres: zones iterate")
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stores`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count stores")
}

// scanStore reads one row in storeColumns order.
func scanStore(row pgx.Row) (*model.Store, error) {
	var st model.Store
	err := row.Scan(
		&st.ID, &st.BizesID, &st.BizesNm, &st.BrtcNm, &st.SggNm, &st.AdongNm, &st.BdongNm,
		&st.LnoAdr, &st.RdnmAdr,
		&st.IndsLclsCd, &st.IndsLclsNm, &st.IndsMclsCd, &st.IndsMclsNm, &st.IndsSclsCd, &st.IndsSclsNm,
		&st.Lon, &st.Lat, &st.BldMngNo, &st.BldNm, &st.FlrInfo, &st.Tel,
		&st.CtprvnCd, &st.SggCd, &st.AdongCd, &st.BdongCd, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &st, nil
}
