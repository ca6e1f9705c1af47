package sqltext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/velocitydb/velocity/common"
)

func TestIsReadOnlyQuery(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT * FROM t", true},
		{"  select 1", true},
		{"SeLeCt 1", true},
		{"WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"with x as (select 1) select * from x", true},
		{"WITH x AS (SELECT 1) DELETE FROM t WHERE id IN (SELECT * FROM x)", false},
		{"WITH x AS (SELECT 1) INSERT INTO t SELECT * FROM x", false},
		{"WITH x AS (SELECT 1) UPDATE t SET a = 1", false},
		{"WITH x AS (SELECT 1) MERGE INTO t USING x ON 1=1", false},
		// conservative: the keyword inside a literal still counts
		{"WITH x AS (SELECT 'update') SELECT * FROM x", false},
		{"INSERT INTO t VALUES (1)", false},
		{"UPDATE t SET a = 1", false},
		{"", false},
		{"EXEC sp_who", false},
	}

	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.want, IsReadOnlyQuery(tt.sql))
		})
	}
}

func TestUseStatement(t *testing.T) {
	tests := []struct {
		sql    string
		isUse  bool
		dbName string
	}{
		{"USE master", true, "master"},
		{"use master;", true, "master"},
		{"  USE [Sales_2024]  ", true, "Sales_2024"},
		{"USE [db] ;", true, "db"},
		{"USE", false, ""},
		{"USE a b", false, ""},
		{"SELECT 1", false, ""},
		{"USEFUL", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.isUse, IsUseStatement(tt.sql))
			assert.Equal(t, tt.dbName, ExtractDatabaseName(tt.sql))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		sql  string
		want common.StatementCode
	}{
		{"SELECT 1", common.StatementSelect},
		{"(SELECT 1) UNION (SELECT 2)", common.StatementSelect},
		{"-- comment\nselect 1", common.StatementSelect},
		{"/* c */ INSERT INTO t VALUES (1)", common.StatementInsert},
		{"update t set a=1", common.StatementUpdate},
		{"DELETE FROM t", common.StatementDelete},
		{"CREATE TABLE t (id int)", common.StatementDDL},
		{"DROP TABLE t", common.StatementDDL},
		{"BEGIN TRANSACTION", common.StatementBegin},
		{"START TRANSACTION", common.StatementBegin},
		{"COMMIT", common.StatementCommit},
		{"ROLLBACK", common.StatementRollback},
		{"EXEC sp_who", common.StatementExec},
		{"PRAGMA table_info(t)", common.StatementPragma},
		{"USE master", common.StatementUse},
		{"", common.StatementUnknown},
		{"-- only a comment", common.StatementUnknown},
		{"VACUUM", common.StatementUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.sql))
		})
	}
}

func TestReturnsRows(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT 1", true},
		{"WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"WITH x AS (SELECT 1) DELETE FROM t", false},
		{"INSERT INTO t VALUES (1)", false},
		{"INSERT INTO t VALUES (1) RETURNING id", true},
		{"UPDATE t SET a = 1 OUTPUT inserted.a", true},
		{"DELETE FROM t", false},
		{"CREATE TABLE t (id int)", false},
		{"BEGIN", false},
		{"PRAGMA table_info(t)", true},
		{"VACUUM", true},
	}

	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.want, ReturnsRows(tt.sql))
		})
	}
}
