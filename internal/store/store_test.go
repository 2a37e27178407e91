package store

import (
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrationsFS, "migrations/*.down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	require.Len(t, downs, len(ups))
}

func TestProductFilterWhere(t *testing.T) {
	where, args := ProductFilter{}.where()
	require.Empty(t, where)
	require.Empty(t, args)

	cat := pgtype.UUID{Bytes: uuid.New(), Valid: true}
	where, args = ProductFilter{Query: " 50%_off ", CategoryID: cat}.where()
	require.Equal(t, " WHERE p.name ILIKE $1 AND p.category_id = $2", where)
	require.Equal(t, []any{`%50\%\_off%`, cat}, args)
}

func TestInvoiceFilterWhere(t *testing.T) {
	user := pgtype.UUID{Bytes: uuid.New(), Valid: true}
	where, args := InvoiceFilter{UserID: user, Status: "delivering"}.where()
	require.Equal(t, " WHERE i.user_id = $1 AND i.payment_status = $2", where)
	require.Len(t, args, 2)
}

func TestUUIDHelpers(t *testing.T) {
	id := uuid.NewString()
	parsed, err := ParseUUID(id)
	require.NoError(t, err)
	require.Equal(t, id, UUIDString(parsed))
	require.Equal(t, id, *NullableUUIDString(parsed))

	_, err = ParseUUID("not-a-uuid")
	require.Error(t, err)
	require.Empty(t, UUIDString(pgtype.UUID{}))
	require.Nil(t, NullableUUIDString(pgtype.UUID{}))
}

func TestTextAndTimeHelpers(t *testing.T) {
	require.False(t, Text("").Valid)
	require.Equal(t, "x", TextValue(Text("x")))
	require.Empty(t, TextValue(pgtype.Text{}))

	now := time.Now()
	require.Equal(t, now, TimeValue(Timestamp(now)))
	require.True(t, TimeValue(pgtype.Timestamptz{}).IsZero())
}

func TestConstraintViolations(t *testing.T) {
	require.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	require.False(t, IsUniqueViolation(errors.New("boom")))
	require.True(t, IsForeignKeyViolation(&pgconn.PgError{Code: "23503"}))
}

func TestRulesOrEmpty(t *testing.T) {
	require.Equal(t, []byte("[]"), rulesOrEmpty(nil))
	require.Equal(t, []byte(`[{"minQty":2}]`), rulesOrEmpty([]byte(`[{"minQty":2}]`)))
}
