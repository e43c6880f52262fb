package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/pasco78/store-api-project/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs the
// sqlite driver option and the end-to-end tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS stores (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	bizes_id     TEXT NOT NULL UNIQUE,
	bizes_nm     TEXT,
	brtc_nm      TEXT,
	sgg_nm       TEXT,
	adong_nm     TEXT,
	bdong_nm     TEXT,
	lno_adr      TEXT,
	rdnm_adr     TEXT,
	inds_lcls_cd TEXT,
	inds_lcls_nm TEXT,
	inds_mcls_cd TEXT,
	inds_mcls_nm TEXT,
	inds_scls_cd TEXT,
	inds_scls_nm TEXT,
	lon          REAL,
	lat          REAL,
	bld_mng_no   TEXT,
	bld_nm       TEXT,
	flr_info     TEXT,
	tel          TEXT,
	ctprvn_cd    TEXT,
	sgg_cd       TEXT,
	adong_cd     TEXT,
	bdong_cd     TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME
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
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME,
	total        INTEGER NOT NULL DEFAULT 0,
	created      INTEGER NOT NULL DEFAULT 0,
	errors       INTEGER NOT NULL DEFAULT 0,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_log_region ON sync_log(region, started_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying handle for subsystems that need direct query
// access (the ingest sync log).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

const sqliteInsertColumns = `bizes_id, bizes_nm, brtc_nm, sgg_nm, adong_nm, bdong_nm,
	lno_adr, rdnm_adr,
	inds_lcls_cd, inds_lcls_nm, inds_mcls_cd, inds_mcls_nm, inds_scls_cd, inds_scls_nm,
	lon, lat, bld_mng_no, bld_nm, flr_info, tel,
	ctprvn_cd, sgg_cd, adong_cd, bdong_cd, created_at`

func insertArgs(st *model.Store, now time.Time) []any {
	return []any{
		st.BizesID, st.BizesNm, st.BrtcNm, st.SggNm, st.AdongNm, st.BdongNm,
		st.LnoAdr, st.RdnmAdr,
		st.IndsLclsCd, st.IndsLclsNm, st.IndsMclsCd, st.IndsMclsNm, st.IndsSclsCd, st.IndsSclsNm,
		st.Lon, st.Lat, st.BldMngNo, st.BldNm, st.FlrInfo, st.Tel,
		st.CtprvnCd, st.SggCd, st.AdongCd, st.BdongCd, now,
	}
}

func (s *SQLiteStore) Create(ctx context.Context, st *model.Store) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO stores (`+sqliteInsertColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		insertArgs(st, now)...,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return eris.Wrapf(ErrDuplicate, "sqlite: insert store %s", st.BizesID)
		}
		if strings.Contains(err.Error(), "constraint") {
			return eris.Wrapf(ErrConstraint, "sqlite: insert store %s: %v", st.BizesID, err)
		}
		return eris.Wrapf(err, "sqlite: insert store %s", st.BizesID)
	}
	if id, err := res.LastInsertId(); err == nil {
		st.ID = id
	}
	st.CreatedAt = now
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, st *model.Store) error {
	now := time.Now().UTC()
	args := append(insertArgs(st, now), now)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stores (`+sqliteInsertColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (bizes_id) DO UPDATE SET
			bizes_nm = excluded.bizes_nm, brtc_nm = excluded.brtc_nm,
			sgg_nm = excluded.sgg_nm, adong_nm = excluded.adong_nm, bdong_nm = excluded.bdong_nm,
			lno_adr = excluded.lno_adr, rdnm_adr = excluded.rdnm_adr,
			inds_lcls_cd = excluded.inds_lcls_cd, inds_lcls_nm = excluded.inds_lcls_nm,
			inds_mcls_cd = excluded.inds_mcls_cd, inds_mcls_nm = excluded.inds_mcls_nm,
			inds_scls_cd = excluded.inds_scls_cd, inds_scls_nm = excluded.inds_scls_nm,
			lon = excluded.lon, lat = excluded.lat,
			bld_mng_no = excluded.bld_mng_no, bld_nm = excluded.bld_nm, flr_info = excluded.flr_info,
			tel = excluded.tel, ctprvn_cd = excluded.ctprvn_cd, sgg_cd = excluded.sgg_cd,
			adong_cd = excluded.adong_cd, bdong_cd = excluded.bdong_cd,
			updated_at = ?`,
		args...,
	)
	if err != nil && strings.Contains(err.Error(), "constraint") {
		return eris.Wrapf(ErrConstraint, "sqlite: upsert store %s: %v", st.BizesID, err)
	}
	return eris.Wrapf(err, "sqlite: upsert store %s", st.BizesID)
}

func (s *SQLiteStore) GetByBizesID(ctx context.Context, bizesID string) (*model.Store, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+storeColumns+` FROM stores WHERE bizes_id = ?`,
		bizesID,
	)
	st, err := scanSQLiteStore(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: store %s", bizesID)
		}
		return nil, eris.Wrapf(err, "sqlite: get store %s", bizesID)
	}
	return st, nil
}

func (s *SQLiteStore) ListByDong(ctx context.Context, adongCd string, page Page) ([]model.Store, error) {
	return s.listStores(ctx, `adong_cd = ?`, []any{adongCd}, page)
}

func (s *SQLiteStore) ListByBuilding(ctx context.Context, bldMngNo string, page Page) ([]model.Store, error) {
	return s.listStores(ctx, `bld_mng_no = ?`, []any{bldMngNo}, page)
}

func (s *SQLiteStore) ListByAddress(ctx context.Context, substr string, page Page) ([]model.Store, error) {
	return s.listStores(ctx, `lno_adr LIKE ?`, []any{"%" + substr + "%"}, page)
}

func (s *SQLiteStore) ListByDistrict(ctx context.Context, sggCd string, page Page) ([]model.Store, error) {
	return s.listStores(ctx, `sgg_cd = ?`, []any{sggCd}, page)
}

func (s *SQLiteStore) ListByBoundingBox(ctx context.Context, box model.BBox, page Page) ([]model.Store, error) {
	return s.listStores(ctx,
		`lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?`,
		[]any{box.MinLat, box.MaxLat, box.MinLon, box.MaxLon}, page)
}

// ListByCategory filters on any combination of classification levels;
// empty codes are unconstrained.
func (s *SQLiteStore) ListByCategory(ctx context.Context, lclsCd, mclsCd, sclsCd string, page Page) ([]model.Store, error) {
	var conds []string
	var args []any
	if lclsCd != "" {
		conds = append(conds, `inds_lcls_cd = ?`)
		args = append(args, lclsCd)
	}
	if mclsCd != "" {
		conds = append(conds, `inds_mcls_cd = ?`)
		args = append(args, mclsCd)
	}
	if sclsCd != "" {
		conds = append(conds, `inds_scls_cd = ?`)
		args = append(args, sclsCd)
	}
	if len(conds) == 0 {
		return s.listStores(ctx, `1=1`, nil, page)
	}
	return s.listStores(ctx, strings.Join(conds, ` AND `), args, page)
}

func (s *SQLiteStore) ListModifiedSince(ctx context.Context, since time.Time, page Page) ([]model.Store, error) {
	return s.listStores(ctx, `COALESCE(updated_at, created_at) >= ?`, []any{since}, page)
}

func (s *SQLiteStore) ListAll(ctx context.Context, page Page) ([]model.Store, error) {
	return s.listStores(ctx, `1=1`, nil, page)
}

func (s *SQLiteStore) listStores(ctx context.Context, where string, args []any, page Page) ([]model.Store, error) {
	if page.Empty() {
		return nil, nil
	}

	query := fmt.Sprintf(
		`SELECT %s FROM stores WHERE %s ORDER BY id LIMIT ? OFFSET ?`,
		storeColumns, where,
	)
	args = append(args, page.Limit(), page.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stores")
	}
	defer rows.Close()

	var stores []model.Store
	for rows.Next() {
		st, err := scanSQLiteStore(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan store")
		}
		stores = append(stores, *st)
	}
	return stores, eris.Wrap(rows.Err(), "sqlite: list stores iterate")
}

func (s *SQLiteStore) LargeCategories(ctx context.Context, page Page) ([]model.CategoryPair, error) {
	return s.listCategories(ctx,
		`SELECT DISTINCT inds_lcls_cd, COALESCE(inds_lcls_nm, '') FROM stores
		 WHERE inds_lcls_cd IS NOT NULL ORDER BY inds_lcls_cd LIMIT ? OFFSET ?`,
		nil, page)
}

func (s *SQLiteStore) MiddleCategories(ctx context.Context, lclsCd string, page Page) ([]model.CategoryPair, error) {
	return s.listCategories(ctx,
		`SELECT DISTINCT inds_mcls_cd, COALESCE(inds_mcls_nm, '') FROM stores
		 WHERE inds_mcls_cd IS NOT NULL AND inds_lcls_cd = ? ORDER BY inds_mcls_cd LIMIT ? OFFSET ?`,
		[]any{lclsCd}, page)
}

func (s *SQLiteStore) SmallCategories(ctx context.Context, lclsCd, mclsCd string, page Page) ([]model.CategoryPair, error) {
	return s.listCategories(ctx,
		`SELECT DISTINCT inds_scls_cd, COALESCE(inds_scls_nm, '') FROM stores
		 WHERE inds_scls_cd IS NOT NULL AND inds_lcls_cd = ? AND inds_mcls_cd = ?
		 ORDER BY inds_scls_cd LIMIT ? OFFSET ?`,
		[]any{lclsCd, mclsCd}, page)
}

func (s *SQLiteStore) listCategories(ctx context.Context, query string, args []any, page Page) ([]model.CategoryPair, error) {
	if page.Empty() {
		return nil, nil
	}
	args = append(args, page.Limit(), page.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list categories")
	}
	defer rows.Close()

	var pairs []model.CategoryPair
	for rows.Next() {
		var p model.CategoryPair
		if err := rows.Scan(&p.Code, &p.Name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan category")
		}
		pairs = append(pairs, p)
	}
	return pairs, eris.Wrap(rows.Err(), "sqlite: list categories iterate")
}

func (s *SQLiteStore) ZonesInBoundingBox(ctx context.Context, box model.BBox, page Page) ([]model.Zone, error) {
	if page.Empty() {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT sgg_cd, COALESCE(sgg_nm, ''), COUNT(id) FROM stores
		 WHERE sgg_cd IS NOT NULL
		   AND lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?
		 GROUP BY sgg_cd, sgg_nm
		 ORDER BY sgg_cd LIMIT ? OFFSET ?`,
		box.MinLat, box.MaxLat, box.MinLon, box.MaxLon, page.Limit(), page.Offset(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: zones in bbox")
	}
	defer rows.Close()

	var zones []model.Zone
	for rows.Next() {
		var z model.Zone
		if err := rows.Scan(&z.SggCd, &z.SggNm, &z.StoreCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan zone")
		}
		zones = append(zones, z)
	}
	return zones, eris.Wrap(rows.Err(), "sqlite: zones iterate")
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stores`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count stores")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteStore(row scannable) (*model.Store, error) {
	var st model.Store
	var updatedAt sql.NullTime
	err := row.Scan(
		&st.ID, &st.BizesID, &st.BizesNm, &st.BrtcNm, &st.SggNm, &st.AdongNm, &st.BdongNm,
		&st.LnoAdr, &st.RdnmAdr,
		&st.IndsLclsCd, &st.IndsLclsNm, &st.IndsMclsCd, &st.IndsMclsNm, &st.IndsSclsCd, &st.IndsSclsNm,
		&st.Lon, &st.Lat, &st.BldMngNo, &st.BldNm, &st.FlrInfo, &st.Tel,
		&st.CtprvnCd, &st.SggCd, &st.AdongCd, &st.BdongCd, &st.CreatedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		st.UpdatedAt = &updatedAt.Time
	}
	return &st, nil
}
