package store

import (
	"testing"

	"github.com/doug-martin/goqu/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuilder() *Store {
	return &Store{dialect: goqu.Dialect("postgres")}
}

func TestListSQLIsSchemaQualified(t *testing.T) {
	s := newBuilder()
	query, args, err := s.listSQL("company_a", 50)
	require.NoError(t, err)

	assert.Contains(t, query, `"company_a"."eng_interactions"`)
	assert.Contains(t, query, `"created_at" DESC`)
	assert.Contains(t, query, "LIMIT")
	require.Len(t, args, 1)
	assert.EqualValues(t, 50, args[0])
}

func TestInsertSQLBindsAllColumns(t *testing.T) {
	s := newBuilder()
	e := &Engagement{
		Channel:        "whatsapp",
		UserIdentifier: "+15550001111",
		Status:         "new",
		Text:           "hello",
	}
	query, args, err := s.insertSQL("company_b", e)
	require.NoError(t, err)

	assert.Contains(t, query, `INSERT INTO "company_b"."eng_interactions"`)
	assert.Contains(t, query, `RETURNING "id", "created_at"`)
	assert.ElementsMatch(t, []interface{}{"whatsapp", "+15550001111", "new", "hello"}, args)
}

func TestUpdateStatusSQLTargetsSingleRow(t *testing.T) {
	s := newBuilder()
	query, args, err := s.updateStatusSQL("company_a", 42, "resolved")
	require.NoError(t, err)

	assert.Contains(t, query, `UPDATE "company_a"."eng_interactions"`)
	assert.Contains(t, query, `"id" = `)
	assert.Contains(t, query, "RETURNING")
	assert.Contains(t, args, "resolved")
	assert.Contains(t, args, int64(42))
}

func TestStatsSQLGroupsByStatus(t *testing.T) {
	s := newBuilder()
	query, _, err := s.statsSQL("company_c")
	require.NoError(t, err)

	assert.Contains(t, query, `"company_c"."eng_interactions"`)
	assert.Contains(t, query, `GROUP BY "status"`)
	assert.Contains(t, query, "COUNT(*)")
}
