package store

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/gbl08ma/sqalx"
)

// ErrNotFound is returned by lookups that find no matching record.
var ErrNotFound = errors.New("store: not found")

// AliasType enumerates StationAlias.alias_type.
type AliasType string

// Recognized alias types.
const (
	AliasCommon     AliasType = "common"
	AliasOfficial   AliasType = "official"
	AliasHistorical AliasType = "historical"
	AliasColloquial AliasType = "colloquial"
)

// Station is a rail station reference record.
type Station struct {
	Tiploc      string
	CRSCode     string
	StationName string
	Country     string
	Region      string
	Latitude    *float64
	Longitude   *float64
	IsActive    bool
}

// StationAlias is an alternate name for a Station.
type StationAlias struct {
	StationTiploc string
	AliasName     string
	AliasType     AliasType
	IsPrimary     bool
}

// TiplocMapping normalizes malformed or legacy TIPLOCs to their canonical
// form, keyed per data source.
type TiplocMapping struct {
	SourceTiploc    string
	CanonicalTiploc string
	DataSource      string
	Reason          string
}

var tiplocLikePattern = regexp.MustCompile(`^[A-Z0-9]{3,7}$`)

// LooksLikeTiploc reports whether s has the shape of a TIPLOC identifier
// (3-7 uppercase letters/digits, no spaces, no lowercase), per the Station
// Resolver's identifier-vs-name detection rule.
func LooksLikeTiploc(s string) bool {
	return tiplocLikePattern.MatchString(s) && s == strings.ToUpper(s)
}

// PutStation inserts or updates a Station. crs_code is case-folded to
// upper; coordinates are stored only when both are present.
func PutStation(node sqalx.Node, st Station) error {
	tx, err := node.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if st.Tiploc == "" {
		return errors.New("store: PutStation: tiploc must not be empty")
	}
	st.CRSCode = strings.ToUpper(st.CRSCode)
	if (st.Latitude == nil) != (st.Longitude == nil) {
		return errors.New("store: PutStation: latitude and longitude must both be present or both absent")
	}

	_, err = sdb.Insert("station").
		Columns("tiploc", "crs_code", "station_name", "country", "region", "latitude", "longitude", "is_active").
		Values(st.Tiploc, nullString(st.CRSCode), st.StationName, nullString(st.Country), nullString(st.Region), st.Latitude, st.Longitude, st.IsActive).
		Suffix(`ON CONFLICT (tiploc) DO UPDATE SET
			crs_code = excluded.crs_code,
			station_name = excluded.station_name,
			country = excluded.country,
			region = excluded.region,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			is_active = excluded.is_active`).
		RunWith(tx).Exec()
	if err != nil {
		return fmt.Errorf("store: PutStation: %w", err)
	}
	return tx.Commit()
}

// PutAlias inserts a StationAlias, demoting any previous primary alias for
// the same station when alias.IsPrimary is set.
func PutAlias(node sqalx.Node, alias StationAlias) error {
	tx, err := node.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if alias.IsPrimary {
		_, err = sdb.Update("station_alias").
			Set("is_primary", false).
			Where(sq.Eq{"station_tiploc": alias.StationTiploc}).
			RunWith(tx).Exec()
		if err != nil {
			return fmt.Errorf("store: PutAlias: demoting existing primary: %w", err)
		}
	}

	_, err = sdb.Insert("station_alias").
		Columns("station_tiploc", "alias_name", "alias_type", "is_primary").
		Values(alias.StationTiploc, alias.AliasName, string(alias.AliasType), alias.IsPrimary).
		RunWith(tx).Exec()
	if err != nil {
		return fmt.Errorf("store: PutAlias: %w", err)
	}
	return tx.Commit()
}

// PutMapping inserts or updates a TiplocMapping, keyed by
// (source_tiploc, data_source).
func PutMapping(node sqalx.Node, m TiplocMapping) error {
	tx, err := node.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = sdb.Insert("tiploc_mapping").
		Columns("source_tiploc", "canonical_tiploc", "data_source", "reason").
		Values(m.SourceTiploc, m.CanonicalTiploc, m.DataSource, nullString(m.Reason)).
		Suffix(`ON CONFLICT (source_tiploc, data_source) DO UPDATE SET
			canonical_tiploc = excluded.canonical_tiploc, reason = excluded.reason`).
		RunWith(tx).Exec()
	if err != nil {
		return fmt.Errorf("store: PutMapping: %w", err)
	}
	return tx.Commit()
}

// CanonicalTiploc resolves src through any recorded TiplocMapping,
// returning src unchanged if no mapping exists.
func CanonicalTiploc(node sqalx.Node, src string) (string, error) {
	tx, err := node.Beginx()
	if err != nil {
		return src, err
	}
	defer tx.Commit() // read-only tx

	rows, err := sdb.Select("canonical_tiploc").From("tiploc_mapping").
		Where(sq.Eq{"source_tiploc": src}).
		Limit(1).RunWith(tx).Query()
	if err != nil {
		return src, fmt.Errorf("store: CanonicalTiploc: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		var canonical string
		if err := rows.Scan(&canonical); err != nil {
			return src, fmt.Errorf("store: CanonicalTiploc: %w", err)
		}
		return canonical, rows.Err()
	}
	return src, rows.Err()
}

func getStationsWithSelect(node sqalx.Node, sbuilder sq.SelectBuilder) ([]Station, error) {
	tx, err := node.Beginx()
	if err != nil {
		return nil, err
	}
	defer tx.Commit() // read-only tx

	rows, err := sbuilder.Columns("tiploc", "crs_code", "station_name", "country", "region", "latitude", "longitude", "is_active").
		From("station").
		RunWith(tx).Query()
	if err != nil {
		return nil, fmt.Errorf("store: getStationsWithSelect: %w", err)
	}
	defer rows.Close()

	var stations []Station
	for rows.Next() {
		var st Station
		var crs, country, region sql.NullString
		if err := rows.Scan(&st.Tiploc, &crs, &st.StationName, &country, &region, &st.Latitude, &st.Longitude, &st.IsActive); err != nil {
			return nil, fmt.Errorf("store: getStationsWithSelect: %w", err)
		}
		st.CRSCode, st.Country, st.Region = crs.String, country.String, region.String
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

// GetStationByTiploc returns the Station with the given TIPLOC, canonicalizing
// it via TiplocMapping first.
func GetStationByTiploc(node sqalx.Node, tiploc string) (Station, error) {
	tx, err := node.Beginx()
	if err != nil {
		return Station{}, err
	}
	defer tx.Commit() // read-only tx

	canonical, err := CanonicalTiploc(tx, tiploc)
	if err != nil {
		return Station{}, err
	}

	stations, err := getStationsWithSelect(tx, sdb.Select().Where(sq.Eq{"tiploc": canonical}))
	if err != nil {
		return Station{}, err
	}
	if len(stations) == 0 {
		return Station{}, ErrNotFound
	}
	return stations[0], nil
}

// LookupStation resolves key by exact match over tiploc, crs_code,
// station_name, or an alias name, canonicalizing TIPLOC-shaped keys first.
func LookupStation(node sqalx.Node, key string) (Station, error) {
	tx, err := node.Beginx()
	if err != nil {
		return Station{}, err
	}
	defer tx.Commit() // read-only tx

	if LooksLikeTiploc(key) {
		if st, err := GetStationByTiploc(tx, key); err == nil {
			return st, nil
		}
	}

	upper := strings.ToUpper(key)
	if stations, err := getStationsWithSelect(tx, sdb.Select().Where(sq.Eq{"crs_code": upper})); err == nil && len(stations) > 0 {
		return stations[0], nil
	}

	if stations, err := getStationsWithSelect(tx, sdb.Select().Where("LOWER(station_name) = LOWER(?)", key)); err == nil && len(stations) > 0 {
		return stations[0], nil
	}

	rows, err := tx.Query(`SELECT s.tiploc, s.crs_code, s.station_name, s.country, s.region, s.latitude, s.longitude, s.is_active
		FROM station s JOIN station_alias a ON a.station_tiploc = s.tiploc
		WHERE LOWER(a.alias_name) = LOWER(?)
		ORDER BY a.is_primary DESC LIMIT 1`, key)
	if err != nil {
		return Station{}, fmt.Errorf("store: LookupStation: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		var st Station
		var crs, country, region sql.NullString
		if err := rows.Scan(&st.Tiploc, &crs, &st.StationName, &country, &region, &st.Latitude, &st.Longitude, &st.IsActive); err != nil {
			return Station{}, fmt.Errorf("store: LookupStation: %w", err)
		}
		st.CRSCode, st.Country, st.Region = crs.String, country.String, region.String
		return st, nil
	}

	return Station{}, ErrNotFound
}

// AllStations returns every station, active or not, used by the Station
// Resolver to build its in-memory fuzzy-matching corpus.
func AllStations(node sqalx.Node) ([]Station, error) {
	return getStationsWithSelect(node, sdb.Select().OrderBy("station_name ASC"))
}

// AliasesForStation returns the aliases recorded for tiploc.
func AliasesForStation(node sqalx.Node, tiploc string) ([]StationAlias, error) {
	tx, err := node.Beginx()
	if err != nil {
		return nil, err
	}
	defer tx.Commit() // read-only tx

	rows, err := sdb.Select("station_tiploc", "alias_name", "alias_type", "is_primary").
		From("station_alias").
		Where(sq.Eq{"station_tiploc": tiploc}).
		RunWith(tx).Query()
	if err != nil {
		return nil, fmt.Errorf("store: AliasesForStation: %w", err)
	}
	defer rows.Close()

	var aliases []StationAlias
	for rows.Next() {
		var a StationAlias
		var aliasType string
		if err := rows.Scan(&a.StationTiploc, &a.AliasName, &aliasType, &a.IsPrimary); err != nil {
			return nil, fmt.Errorf("store: AliasesForStation: %w", err)
		}
		a.AliasType = AliasType(aliasType)
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

// AllAliases returns every alias in the store, joined with its owning
// station's tiploc, for the resolver's in-memory corpus.
func AllAliases(node sqalx.Node) ([]StationAlias, error) {
	tx, err := node.Beginx()
	if err != nil {
		return nil, err
	}
	defer tx.Commit() // read-only tx

	rows, err := sdb.Select("station_tiploc", "alias_name", "alias_type", "is_primary").
		From("station_alias").
		RunWith(tx).Query()
	if err != nil {
		return nil, fmt.Errorf("store: AllAliases: %w", err)
	}
	defer rows.Close()

	var aliases []StationAlias
	for rows.Next() {
		var a StationAlias
		var aliasType string
		if err := rows.Scan(&a.StationTiploc, &a.AliasName, &aliasType, &a.IsPrimary); err != nil {
			return nil, fmt.Errorf("store: AllAliases: %w", err)
		}
		a.AliasType = AliasType(aliasType)
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
