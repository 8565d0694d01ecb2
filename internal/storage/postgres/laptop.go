package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/laptop-admin/internal/domain/catalog"
)

var _ catalog.Store = (*LaptopRepository)(nil)

// LaptopRepository implements catalog.Store backed by PostgreSQL.
type LaptopRepository struct {
	pool  *pgxpool.Pool
	table string
}

// NewLaptopRepository returns a LaptopRepository on table (default "laptops").
func NewLaptopRepository(pool *pgxpool.Pool, table string) *LaptopRepository {
	if table == "" {
		table = "laptops"
	}
	return &LaptopRepository{pool: pool, table: table}
}

// Upsert inserts rec or merges its columns into the row with the same id.
// Columns absent from rec keep their stored values.
func (r *LaptopRepository) Upsert(ctx context.Context, rec catalog.Record) (json.RawMessage, error) {
	query, args, err := buildUpsert(r.table, rec)
	if err != nil {
		return nil, err
	}

	var row []byte
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&row); err != nil {
		return nil, upstream("upsert laptop", err)
	}
	return json.RawMessage(row), nil
}

// AssetRefs loads the asset ids of laptop id, or nil if there is no such row.
func (r *LaptopRepository) AssetRefs(ctx context.Context, id int64) (*catalog.AssetRefs, error) {
	query := fmt.Sprintf(
		`SELECT COALESCE(image_public_id, ''), COALESCE(array_replace(gallery_public_ids, NULL, ''), '{}')
		FROM %s WHERE id = $1`,
		pgx.Identifier{r.table}.Sanitize(),
	)

	var refs catalog.AssetRefs
	err := r.pool.QueryRow(ctx, query, id).Scan(&refs.ImagePublicID, &refs.GalleryPublicIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, upstream("fetch laptop", err)
	}
	return &refs, nil
}

// Delete removes laptop id and returns the deleted rows as a JSON array.
func (r *LaptopRepository) Delete(ctx context.Context, id int64) (json.RawMessage, error) {
	query := fmt.Sprintf(
		`WITH deleted AS (DELETE FROM %s WHERE id = $1 RETURNING *)
		SELECT COALESCE(jsonb_agg(to_jsonb(deleted)), '[]'::jsonb) FROM deleted`,
		pgx.Identifier{r.table}.Sanitize(),
	)

	var rows []byte
	if err := r.pool.QueryRow(ctx, query, id).Scan(&rows); err != nil {
		return nil, upstream("delete laptop", err)
	}
	return json.RawMessage(rows), nil
}

// buildUpsert renders the upsert statement for rec. Columns are emitted in
// sorted order; each parameter is cast to the column type.
func buildUpsert(table string, rec catalog.Record) (string, []any, error) {
	if _, ok := rec[catalog.ColID]; !ok {
		return "", nil, errors.New("record has no id")
	}

	cols := make([]string, 0, len(rec))
	for col := range rec {
		cols = append(cols, col)
	}
	slices.Sort(cols)

	var (
		names  = make([]string, 0, len(cols))
		values = make([]string, 0, len(cols))
		sets   = make([]string, 0, len(cols))
		args   = make([]any, 0, len(cols))
	)
	for _, col := range cols {
		kind, ok := catalog.Columns[col]
		if !ok {
			return "", nil, &catalog.UpstreamError{
				Op:     "upsert laptop",
				Detail: fmt.Sprintf("column %q does not exist", col),
			}
		}
		cast, arg, err := columnArg(kind, rec[col])
		if err != nil {
			return "", nil, &catalog.UpstreamError{
				Op:     "upsert laptop",
				Detail: fmt.Sprintf("column %q: %v", col, err),
			}
		}

		name := pgx.Identifier{col}.Sanitize()
		args = append(args, arg)
		names = append(names, name)
		values = append(values, "$"+strconv.Itoa(len(args))+cast)
		if col != catalog.ColID {
			sets = append(sets, name+" = EXCLUDED."+name)
		}
	}
	sets = append(sets, "updated_at = NOW()")

	query := fmt.Sprintf(
		"INSERT INTO %s AS t (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s RETURNING to_jsonb(t)",
		pgx.Identifier{table}.Sanitize(),
		strings.Join(names, ", "),
		strings.Join(values, ", "),
		strings.Join(sets, ", "),
	)
	return query, args, nil
}

// columnArg converts a normalized value into a query argument and the cast
// that goes with it. Array columns arrive as array literals and JSON columns
// as serialized JSON; both are cast through text.
func columnArg(kind catalog.ColumnKind, v any) (cast string, arg any, err error) {
	switch kind {
	case catalog.KindBigint:
		cast = "::bigint"
		if v != nil {
			arg, err = toInt64(v)
		}
	case catalog.KindNumeric:
		cast = "::numeric"
		if v != nil {
			arg, err = toDecimal(v)
		}
	case catalog.KindBool:
		cast = "::boolean"
		if v != nil {
			arg = catalog.CoerceBool(v)
		}
	case catalog.KindTextArray:
		cast = "::text::text[]"
		switch t := v.(type) {
		case nil:
		case []any:
			arg = arrayLiteral(catalog.EncodeArray(t))
		default:
			arg = arrayLiteral(catalog.Stringify(t))
		}
	case catalog.KindJSON:
		cast = "::text::jsonb"
		switch t := v.(type) {
		case nil:
		case json.RawMessage:
			arg = string(t)
		default:
			var b []byte
			b, err = json.Marshal(t)
			arg = string(b)
		}
	default:
		cast = "::text"
		if v != nil {
			arg = catalog.Stringify(v)
		}
	}
	if err != nil {
		return "", nil, err
	}
	return cast, arg, nil
}

// arrayLiteral quotes the empty elements of a brace-delimited array literal,
// which PostgreSQL rejects when unquoted. Other elements pass unchanged.
func arrayLiteral(lit string) string {
	if len(lit) < 2 || lit[0] != '{' || lit[len(lit)-1] != '}' || lit == "{}" {
		return lit
	}
	body := lit[1 : len(lit)-1]

	var b strings.Builder
	b.WriteByte('{')
	emit := func(elem string) {
		if strings.TrimSpace(elem) == "" {
			b.WriteString(`""`)
			return
		}
		b.WriteString(elem)
	}
	start, escaped := 0, false
	for i := 0; i < len(body); i++ {
		switch {
		case escaped:
			escaped = false
		case body[i] == '\\':
			escaped = true
		case body[i] == ',':
			emit(body[start:i])
			b.WriteByte(',')
			start = i + 1
		}
	}
	emit(body[start:])
	b.WriteByte('}')
	return b.String()
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case float64:
		if t != math.Trunc(t) {
			return 0, errors.Errorf("%v is not an integer", t)
		}
		return int64(t), nil
	case json.Number:
		return strconv.ParseInt(t.String(), 10, 64)
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	default:
		return 0, errors.Errorf("unsupported id type %T", v)
	}
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case json.Number:
		return decimal.NewFromString(t.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(t))
	case float64:
		return decimal.NewFromFloat(t), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	default:
		return decimal.Decimal{}, errors.Errorf("unsupported numeric type %T", v)
	}
}

// upstream turns a server-side rejection into a catalog.UpstreamError so its
// message reaches the caller. Connection failures stay opaque.
func upstream(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &catalog.UpstreamError{Op: op, Detail: pgErr.Message}
	}
	return fmt.Errorf("%s: %w", op, err)
}
