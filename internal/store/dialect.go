package store

import (
	"strconv"
	"strings"
)

// Dialect selects the SQL flavour the store speaks
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// driver is the database/sql driver name registered by lib/pq or modernc
func (d Dialect) driver() string {
	return d.String()
}

// amountType is the column type for uint64 amounts. Both keep the full
// uint64 range, which BIGINT does not.
func (d Dialect) amountType() string {
	if d == Postgres {
		return "NUMERIC(20,0)"
	}
	return "TEXT"
}

// rebind rewrites ? placeholders to $n for postgres
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ParseDSN picks the dialect from a DATABASE_URL. postgres:// URLs go to
// lib/pq; anything else is a SQLite path with an optional sqlite:// prefix.
func ParseDSN(url string) (Dialect, string) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return Postgres, url
	case strings.HasPrefix(url, "sqlite://"):
		return SQLite, strings.TrimPrefix(url, "sqlite://")
	default:
		return SQLite, url
	}
}
