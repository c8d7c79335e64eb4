//go:build integration

package sqlconn_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"attestor/internal/connector"
	"attestor/internal/connector/sqlconn"
	"attestor/internal/facts"
	"attestor/pkg/testutil/containers"
)

type SQLConnectorSuite struct {
	suite.Suite
	pg   *containers.PostgresContainer
	conn *sqlconn.Connector
}

func TestSQLConnectorSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(SQLConnectorSuite))
}

func (s *SQLConnectorSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.Require().NoError(s.pg.Exec(context.Background(),
		`CREATE TABLE IF NOT EXISTS subject_facts (
			subject_id TEXT PRIMARY KEY,
			jurisdiction TEXT NOT NULL,
			credit_score INTEGER,
			annual_income NUMERIC(14,2),
			sanctions_listed BOOLEAN
		)`,
		`TRUNCATE subject_facts`,
		`INSERT INTO subject_facts VALUES ('ABC123', 'US', 720, 65000.10, false)`,
	))

	conn, err := sqlconn.New(s.pg.Pool, sqlconn.Config{
		Name:  "ledger",
		Query: `SELECT credit_score, annual_income, sanctions_listed FROM subject_facts WHERE subject_id = $1 AND jurisdiction = $2`,
	})
	s.Require().NoError(err)
	s.conn = conn
}

func (s *SQLConnectorSuite) TestFetchRow() {
	values, err := s.conn.Fetch(context.Background(), connector.Subject{ID: "ABC123", Jurisdiction: "US"})
	s.Require().NoError(err)

	income, err := facts.NumberFromString("65000.10")
	s.Require().NoError(err)
	s.True(facts.Int(720).Equal(values["credit_score"]))
	s.True(income.Equal(values["annual_income"]))
	s.True(facts.Bool(false).Equal(values["sanctions_listed"]))
}

func (s *SQLConnectorSuite) TestOtherJurisdictionIsNotFound() {
	_, err := s.conn.Fetch(context.Background(), connector.Subject{ID: "ABC123", Jurisdiction: "UK"})
	s.Equal(connector.CategoryNotFound, connector.CategoryOf(err))
}
