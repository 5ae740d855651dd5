package db

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDecisionWhere(t *testing.T) {
	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	where, args, next := buildDecisionWhere(DecisionFilter{
		Recommendation: "bid",
		MinScore:       60,
		Since:          &since,
		NAICS:          "541512",
	})

	assert.Equal(t, "WHERE 1=1 AND d.recommendation = $1 AND d.overall_score >= $2 AND d.evaluated_at >= $3 AND n.naics_code = $4", where)
	assert.Equal(t, []interface{}{"BID", 60.0, since, "541512"}, args)
	assert.Equal(t, 5, next)

	where, args, next = buildDecisionWhere(DecisionFilter{})
	assert.Equal(t, "WHERE 1=1", where)
	assert.Empty(t, args)
	assert.Equal(t, 1, next)
}

func TestDecisionOrder(t *testing.T) {
	assert.Contains(t, decisionOrder(""), "d.overall_score DESC")
	assert.Contains(t, decisionOrder("newest"), "d.evaluated_at DESC")
	assert.Contains(t, decisionOrder("deadline"), "NULLS LAST")
}

func TestMigrationsEmbedded(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "001_init.sql", files[0])

	content, err := migrationsFS.ReadFile("migrations/" + files[0])
	require.NoError(t, err)
	sql := string(content)
	for _, token := range []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		"CREATE TABLE IF NOT EXISTS notices",
		"embedding            vector(768)",
		"CREATE TABLE IF NOT EXISTS decisions",
		"REFERENCES notices (notice_id)",
	} {
		assert.True(t, strings.Contains(sql, token), "migration missing %q", token)
	}
}

func TestNullableAndDeref(t *testing.T) {
	assert.Nil(t, nullable("   "))
	v := nullable("x")
	require.NotNil(t, v)
	assert.Equal(t, "x", deref(v))
	assert.Equal(t, "", deref(nil))
	assert.Equal(t, []string{}, nonNil(nil))
}
