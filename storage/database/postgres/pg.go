package pgrepos

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/trezcool/miradi/core"
)

// getExec picks the transaction passed by the service over the repository's
// default pool.
func getExec(base core.DBExecutor, svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 {
		return svcExec[0]
	}
	return base
}

// trapNoRowsErr maps psql "no rows" err to the package's not-found sentinel.
func trapNoRowsErr(err, notFound error, msg string) error {
	if err == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}
